// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docmover

import (
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// StdinPath is the path that selects standard input as the import
	// source or query source.
	StdinPath = "-"

	DefaultEncoding        = "utf-8"
	DefaultHost            = "localhost"
	DefaultPort            = 9200
	DefaultUsername        = "elastic"
	DefaultChunkSize       = 1000
	DefaultScrollKeepAlive = 20 * time.Minute
)

// Config holds configuration for Importer and Exporter.
//
// A Config is built once, validated, and then only read. Fields that only
// apply to one direction are ignored by the other.
type Config struct {
	// Logger holds an optional Logger to use for logging bulk and scroll
	// requests.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing requests to
	// Elasticsearch. Each bulk request and each export run is traced as a
	// transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider used to create
	// spans for bulk requests and scroll pages.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// Connection holds the Elasticsearch connection parameters. They are
	// validated together with the rest of the configuration, and used by
	// NewClient.
	Connection ConnectionConfig

	// Encoding holds the text encoding of input and output files.
	//
	// If Encoding is empty, UTF-8 will be used.
	Encoding string

	// Index holds the target index for imports, or the index to query for
	// exports. It is required for imports and optional for exports.
	Index string

	// ChunkSize holds the number of bulk lines per request when importing,
	// and the scroll page size when exporting.
	//
	// If ChunkSize is zero, the default of 1000 will be used.
	ChunkSize int

	// InputPath holds the file to import, or StdinPath. The extension
	// selects the decoder.
	InputPath string

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// PassThrough disables action generation: every input line is expected
	// to already be a bulk action or document line.
	PassThrough bool

	// IDField holds a dot-separated path to the value used as document _id.
	// Only valid when actions are generated.
	IDField string

	// CompressionLevel holds the gzip compression level for bulk request
	// bodies, from 0 (gzip.NoCompression) to 9 (gzip.BestCompression). The
	// special value -1 (gzip.DefaultCompression) selects the default
	// compression level.
	CompressionLevel int

	// DryRun renders each batch to Stdout instead of sending it.
	DryRun bool

	// QueryPath holds the file containing the search request body, or
	// StdinPath.
	QueryPath string

	// PostProcess holds an optional shell command every exported document
	// is piped through.
	PostProcess string

	// OutputPath holds the export destination. If OutputPath is empty or
	// StdinPath, documents are written to Stdout.
	OutputPath string

	// Full exports whole search hits instead of their _source.
	Full bool

	// ScrollKeepAlive holds how long Elasticsearch keeps the search context
	// alive between scroll requests.
	//
	// If ScrollKeepAlive is zero, the default of 20 minutes will be used.
	ScrollKeepAlive time.Duration

	// Stdin and Stdout replace os.Stdin and os.Stdout when set.
	Stdin  io.Reader
	Stdout io.Writer
}

// ConnectionConfig holds the parameters used to reach Elasticsearch.
type ConnectionConfig struct {
	// Host holds the Elasticsearch host. Defaults to localhost.
	Host string

	// Port holds the Elasticsearch port. Defaults to 9200.
	Port int

	// Username and Password hold basic authentication credentials. When
	// only Password is set, the username defaults to "elastic".
	Username string
	Password string

	// Insecure selects plain HTTP instead of HTTPS.
	Insecure bool

	// CACert holds the path of a PEM encoded CA certificate used to verify
	// the server. It requires HTTPS.
	CACert string
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ScrollKeepAlive == 0 {
		c.ScrollKeepAlive = DefaultScrollKeepAlive
	}
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	c.Connection = c.Connection.withDefaults()
	return c
}

// ValidateImport checks the flag combinations an import depends on. It
// performs no I/O.
func (c Config) ValidateImport() error {
	if c.InputPath == "" {
		return configError("input path is required")
	}
	if c.Index == "" {
		return configError("index name is required")
	}
	if c.IDField != "" && c.PassThrough {
		return configError("ID field can only be applied to generated actions")
	}
	if isCSV(c.InputPath) && c.PassThrough {
		return configError("actions must be generated for CSV files")
	}
	if c.CompressionLevel < -1 || c.CompressionLevel > 9 {
		return configError("expected CompressionLevel in range [-1,9], got %d", c.CompressionLevel)
	}
	return c.validateCommon()
}

// ValidateExport checks the flag combinations an export depends on. It
// performs no I/O.
func (c Config) ValidateExport() error {
	if c.QueryPath == "" {
		return configError("query path is required")
	}
	if c.ScrollKeepAlive < 0 {
		return configError("scroll keep-alive must not be negative, got %s", c.ScrollKeepAlive)
	}
	return c.validateCommon()
}

func (c Config) validateCommon() error {
	if c.ChunkSize < 0 {
		return configError("chunk size must be positive, got %d", c.ChunkSize)
	}
	if _, err := LookupCodec(c.Encoding); err != nil {
		return configError("%v", err)
	}
	return c.Connection.Validate()
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	return c
}

// Validate checks that credentials are complete and that TLS options are
// consistent.
func (c ConnectionConfig) Validate() error {
	if c.Username != "" && c.Password == "" {
		return configError("username and password must be provided together")
	}
	if c.CACert != "" && c.Insecure {
		return configError("CA certificate can only be used with HTTPS")
	}
	if c.Port < 0 || c.Port > 65535 {
		return configError("port %d out of range", c.Port)
	}
	return nil
}

// URL returns the base URL of the Elasticsearch node.
func (c ConnectionConfig) URL() string {
	c = c.withDefaults()
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ConnectionConfig) username() string {
	if c.Username == "" && c.Password != "" {
		return DefaultUsername
	}
	return c.Username
}
