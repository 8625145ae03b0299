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

// Command esexport runs a search against Elasticsearch and writes every hit
// as one line of JSON, optionally piped through a shell command.
//
//	esexport [flags] <query-file|->
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
	flagPostProcess = "post-process"
	flagOut         = "out"
	flagFull        = "full"
	flagIndex       = "index"
	flagScroll      = "scroll"
)

func main() {
	cli.Main("esexport", run)
}

func run(ctx context.Context, args []string) error {
	cfg, logLevel, err := parseConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.ValidateExport(); err != nil {
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

	es, err := docmover.NewClient(cfg.Connection)
	if err != nil {
		return err
	}
	exporter, err := docmover.NewExporter(es, cfg)
	if err != nil {
		return err
	}
	stats, err := exporter.Run(ctx)
	if err != nil {
		logger.Error("export failed",
			zap.Error(err),
			zap.Int64("hits", stats.Hits),
			zap.Int64("written", stats.Written),
		)
		return err
	}
	return nil
}

func parseConfig(args []string) (docmover.Config, string, error) {
	fs := cli.NewFlagSet("esexport")
	fs.String(flagPostProcess, "", "shell command every document is piped through; empty output drops the document")
	fs.StringP(flagOut, "o", "", "output file (defaults to stdout)")
	fs.Bool(flagFull, false, "export whole search hits instead of their _source")
	fs.StringP(flagIndex, "i", "", "index to search (defaults to all indices)")
	fs.Duration(flagScroll, docmover.DefaultScrollKeepAlive, "scroll keep-alive between pages")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: esexport [flags] <query-file|->")
		fs.PrintDefaults()
	}

	v, err := cli.Parse(fs, args)
	if err != nil {
		return docmover.Config{}, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return docmover.Config{}, "", fmt.Errorf("expected 1 argument, got %d", fs.NArg())
	}

	cfg := docmover.Config{
		Connection:      cli.Connection(v),
		Encoding:        v.GetString(cli.FlagFileEncoding),
		ChunkSize:       v.GetInt(cli.FlagChunkSize),
		Index:           v.GetString(flagIndex),
		QueryPath:       fs.Arg(0),
		PostProcess:     v.GetString(flagPostProcess),
		OutputPath:      v.GetString(flagOut),
		Full:            v.GetBool(flagFull),
		ScrollKeepAlive: v.GetDuration(flagScroll),
	}
	if cfg.ChunkSize <= 0 {
		return cfg, "", fmt.Errorf("%w: chunk size must be positive, got %d", docmover.ErrInvalidConfig, cfg.ChunkSize)
	}
	return cfg, v.GetString(cli.FlagLogLevel), nil
}
