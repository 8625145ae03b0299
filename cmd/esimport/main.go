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

// Command esimport loads a JSON lines, CSV or compressed file into an
// Elasticsearch index through the bulk API.
//
//	esimport [flags] <input|-> <index>
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/elastic/go-docmover"
	"github.com/elastic/go-docmover/internal/cli"
)

const (
	flagPipeline         = "pipeline"
	flagNoGenerateAction = "no-generate-action"
	flagIDField          = "id-field"
	flagCompressionLevel = "compression-level"
	flagDryRun           = "dry-run"
)

func main() {
	cli.Main("esimport", run)
}

func run(ctx context.Context, args []string) error {
	cfg, logLevel, err := parseConfig(args)
	if err != nil {
		return err
	}
	// Flag combinations are checked before the CA certificate or the input
	// is read.
	if err := cfg.ValidateImport(); err != nil {
		return err
	}
	logger, err := cli.NewLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg.Logger = logger
	cfg.Tracer = cli.APMTracer()
	if cfg.Tracer != nil {
		defer cfg.Tracer.Close()
		defer cfg.Tracer.Flush(nil)
	}

	var importer *docmover.Importer
	if cfg.DryRun {
		importer, err = docmover.NewImporter(nil, cfg)
	} else {
		es, cerr := docmover.NewClient(cfg.Connection)
		if cerr != nil {
			return cerr
		}
		importer, err = docmover.NewImporter(es, cfg)
	}
	if err != nil {
		return err
	}
	stats, err := importer.Run(ctx)
	if err != nil {
		logger.Error("import failed",
			zap.Error(err),
			zap.Int64("records", stats.Records),
			zap.Int64("batches", stats.Batches),
		)
		return err
	}
	return nil
}

func parseConfig(args []string) (docmover.Config, string, error) {
	fs := cli.NewFlagSet("esimport")
	fs.String(flagPipeline, "", "ingest pipeline to run documents through")
	fs.Bool(flagNoGenerateAction, false, "pass input lines through unchanged instead of generating index actions")
	fs.String(flagIDField, "", "dot-separated path of the document field used as _id")
	fs.Int(flagCompressionLevel, 0, "gzip level for bulk request bodies, -1 to 9 (0 disables compression)")
	fs.Bool(flagDryRun, false, "print bulk requests instead of sending them")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: esimport [flags] <input|-> <index>")
		fs.PrintDefaults()
	}

	v, err := cli.Parse(fs, args)
	if err != nil {
		return docmover.Config{}, "", err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return docmover.Config{}, "", fmt.Errorf("expected 2 arguments, got %d", fs.NArg())
	}

	cfg := docmover.Config{
		Connection:       cli.Connection(v),
		Encoding:         v.GetString(cli.FlagFileEncoding),
		ChunkSize:        v.GetInt(cli.FlagChunkSize),
		InputPath:        fs.Arg(0),
		Index:            fs.Arg(1),
		Pipeline:         v.GetString(flagPipeline),
		PassThrough:      v.GetBool(flagNoGenerateAction),
		IDField:          v.GetString(flagIDField),
		CompressionLevel: v.GetInt(flagCompressionLevel),
		DryRun:           v.GetBool(flagDryRun),
	}
	if cfg.ChunkSize <= 0 {
		return cfg, "", fmt.Errorf("%w: chunk size must be positive, got %d", docmover.ErrInvalidConfig, cfg.ChunkSize)
	}
	return cfg, v.GetString(cli.FlagLogLevel), nil
}
