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
	"context"
	"errors"
	"io"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ExportStats summarizes an export run.
type ExportStats struct {
	// Hits holds the number of search hits read.
	Hits int64

	// Written holds the number of documents written to the output.
	Written int64

	// Dropped holds the number of documents for which the post-process
	// command produced no output.
	Dropped int64
}

// Exporter writes the results of a search to a file or stdout, one
// document per line.
type Exporter struct {
	client    elastictransport.Interface
	config    Config
	codec     *Codec
	processor *PostProcessor
	metrics   *metrics
}

// NewExporter returns a new Exporter reading from client.
func NewExporter(client elastictransport.Interface, cfg Config) (*Exporter, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.ValidateExport(); err != nil {
		return nil, err
	}
	codec, err := LookupCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		client:    client,
		config:    cfg,
		codec:     codec,
		processor: NewPostProcessor(cfg.PostProcess, codec),
		metrics:   ms,
	}, nil
}

// Run executes the search and writes every hit. The query is read before
// the output is opened. The scroll context and the output are released on
// every path.
func (e *Exporter) Run(ctx context.Context) (stats ExportStats, err error) {
	if e.config.Tracer != nil && e.config.Tracer.Recording() {
		tx := e.config.Tracer.StartTransaction("docmover.export", "output")
		ctx = apm.ContextWithTransaction(ctx, tx)
		defer func() {
			tx.Context.SetLabel("hits", stats.Hits)
			tx.Context.SetLabel("written", stats.Written)
			if err != nil {
				tx.Outcome = "failure"
				apm.CaptureError(ctx, err).Send()
			} else {
				tx.Outcome = "success"
			}
			tx.End()
		}()
	}

	query, err := readQuery(e.config.QueryPath, e.codec, e.config.Stdin)
	if err != nil {
		return stats, err
	}
	sink, err := openSink(e.config.OutputPath, e.codec, e.config.Stdout)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := sink.Close(); err == nil {
			err = cerr
		}
	}()

	reader := NewScrollReader(e.client, ScrollConfig{
		Index:          e.config.Index,
		Size:           e.config.ChunkSize,
		KeepAlive:      e.config.ScrollKeepAlive,
		Logger:         e.config.Logger,
		TracerProvider: e.config.TracerProvider,
	}, query)
	reader.metrics = e.metrics
	reader.attrs = e.config.MetricAttributes
	defer func() {
		// The scroll is cleared even when ctx was cancelled.
		if cerr := reader.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.config.Logger.Warn("failed to clear scroll", zap.Error(cerr))
		}
	}()

	attrs := metric.WithAttributeSet(e.config.MetricAttributes)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hit, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Hits++

		doc := hit.Full
		if !e.config.Full {
			if len(hit.Source) == 0 {
				return stats, errMissingSource
			}
			doc = hit.Source
		}
		out, err := e.processor.Process(ctx, doc)
		if err != nil {
			return stats, err
		}
		if out == "" {
			stats.Dropped++
			e.metrics.hitsDropped.Add(context.Background(), 1, attrs)
			continue
		}
		if err := sink.WriteLine(out); err != nil {
			return stats, err
		}
		stats.Written++
		e.metrics.hitsExported.Add(context.Background(), 1, attrs)
	}

	e.config.Logger.Info("export completed",
		zap.String("query", e.config.QueryPath),
		zap.Int64("hits", stats.Hits),
		zap.Int64("written", stats.Written),
		zap.Int64("dropped", stats.Dropped),
	)
	return stats, nil
}
