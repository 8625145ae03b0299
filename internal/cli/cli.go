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

// Package cli holds the flag, environment and logging plumbing shared by
// the esimport and esexport commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"

	"github.com/elastic/go-docmover"
)

// EnvPrefix prefixes the environment variable of every flag: --ca-cert is
// also read from DOCMOVER_CA_CERT.
const EnvPrefix = "docmover"

// Flag names shared by both commands.
const (
	FlagHost         = "host"
	FlagPort         = "port"
	FlagUsername     = "username"
	FlagPassword     = "password"
	FlagInsecure     = "insecure"
	FlagCACert       = "ca-cert"
	FlagFileEncoding = "file-encoding"
	FlagChunkSize    = "chunk-size"
	FlagLogLevel     = "log-level"
)

// NewFlagSet returns a flag set carrying the connection, encoding and
// logging flags. Parse errors are returned, not fatal.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.String(FlagHost, docmover.DefaultHost, "Elasticsearch host")
	fs.Int(FlagPort, docmover.DefaultPort, "Elasticsearch port")
	fs.StringP(FlagUsername, "u", "", `basic auth username (defaults to "elastic" when a password is set)`)
	fs.StringP(FlagPassword, "p", "", "basic auth password")
	fs.Bool(FlagInsecure, false, "use plain HTTP instead of HTTPS")
	fs.String(FlagCACert, "", "path of a PEM encoded CA certificate (HTTPS only)")
	fs.String(FlagFileEncoding, docmover.DefaultEncoding, "text encoding of input and output files")
	fs.IntP(FlagChunkSize, "c", docmover.DefaultChunkSize, "number of bulk lines per request, or hits per scroll page")
	fs.String(FlagLogLevel, "info", "log level: debug, info, warn or error")
	return fs
}

// Parse parses args into fs and returns a viper instance resolving every
// flag from the command line first, then from DOCMOVER_* environment
// variables, then from the flag default.
func Parse(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// Connection returns the connection parameters resolved by v.
func Connection(v *viper.Viper) docmover.ConnectionConfig {
	return docmover.ConnectionConfig{
		Host:     v.GetString(FlagHost),
		Port:     v.GetInt(FlagPort),
		Username: v.GetString(FlagUsername),
		Password: v.GetString(FlagPassword),
		Insecure: v.GetBool(FlagInsecure),
		CACert:   v.GetString(FlagCACert),
	}
}

// NewLogger returns a production zap logger writing JSON to stderr at the
// given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// APMTracer returns the default Elastic APM tracer when an APM server is
// configured through ELASTIC_APM_SERVER_URL, and nil otherwise.
func APMTracer() *apm.Tracer {
	if os.Getenv("ELASTIC_APM_SERVER_URL") == "" {
		return nil
	}
	return apm.DefaultTracer()
}

// Main runs fn with a context cancelled on SIGINT or SIGTERM, and exits the
// process with status 1 if fn fails. Requesting --help is not a failure.
func Main(name string, fn func(ctx context.Context, args []string) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fn(ctx, os.Args[1:])
	stop()
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	os.Exit(1)
}
