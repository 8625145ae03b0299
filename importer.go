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
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ImportStats summarizes an import run.
type ImportStats struct {
	// Records holds the number of input records read.
	Records int64

	// Lines holds the number of bulk lines generated. A generated action
	// and its document count as two lines.
	Lines int64

	// Batches holds the number of bulk requests sent or rendered.
	Batches int64

	// Indexed and Failed hold the per-item outcome reported by
	// Elasticsearch. Both are zero for dry runs.
	Indexed int64
	Failed  int64
}

// Importer streams an input file into an Elasticsearch index.
//
// The pipeline is strictly sequential: a record is decoded, turned into
// bulk lines, and added to the current batch, which is sent once full. No
// two bulk requests overlap. Batches sent before an error stay committed.
type Importer struct {
	config    Config
	codec     *Codec
	format    format
	generator *ActionGenerator
	batcher   *Batcher
	sender    Sender
	bulk      *BulkSender
	metrics   *metrics
	tracer    trace.Tracer
	stats     ImportStats
}

// NewImporter returns a new Importer sending to client. client may be nil
// when cfg.DryRun is set. All configuration checks happen here, before any
// input is opened.
func NewImporter(client elastictransport.Interface, cfg Config) (*Importer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.ValidateImport(); err != nil {
		return nil, err
	}
	codec, err := LookupCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	f, err := formatFor(cfg.InputPath, cfg.Stdin)
	if err != nil {
		return nil, err
	}
	generator, err := NewActionGenerator(ActionConfig{
		PassThrough: cfg.PassThrough,
		IDField:     cfg.IDField,
	})
	if err != nil {
		return nil, err
	}
	batcher, err := NewBatcher(cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}

	imp := &Importer{
		config:    cfg,
		codec:     codec,
		format:    f,
		generator: generator,
		batcher:   batcher,
		metrics:   ms,
	}
	if cfg.DryRun {
		imp.sender = NewDryRunSender(cfg.Stdout, cfg.Index, cfg.Pipeline)
	} else {
		bulk, err := NewBulkSender(BulkSenderConfig{
			Client:           client,
			Index:            cfg.Index,
			Pipeline:         cfg.Pipeline,
			CompressionLevel: cfg.CompressionLevel,
		})
		if err != nil {
			return nil, err
		}
		imp.bulk = bulk
		imp.sender = bulk
	}
	if cfg.TracerProvider != nil {
		imp.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docmover.importer")
	}
	return imp, nil
}

// Run reads the whole input and sends it. It stops at the first error,
// returning the statistics gathered so far.
func (i *Importer) Run(ctx context.Context) (ImportStats, error) {
	records, err := i.format.open(i.config.InputPath, i.codec)
	if err != nil {
		return i.stats, err
	}
	defer records.Close()

	attrs := metric.WithAttributeSet(i.config.MetricAttributes)
	for {
		if err := ctx.Err(); err != nil {
			return i.stats, err
		}
		rec, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return i.stats, err
		}
		i.stats.Records++
		i.metrics.recordsRead.Add(context.Background(), 1, attrs)

		lines, err := i.generator.Lines(rec)
		if err != nil {
			return i.stats, err
		}
		i.stats.Lines += int64(len(lines))
		if batch, ok := i.batcher.Add(lines); ok {
			if err := i.flush(ctx, batch); err != nil {
				return i.stats, err
			}
		}
	}
	if batch, ok := i.batcher.Flush(); ok {
		if err := i.flush(ctx, batch); err != nil {
			return i.stats, err
		}
	}

	i.config.Logger.Info("import completed",
		zap.String("input", i.config.InputPath),
		zap.String("index", i.config.Index),
		zap.Int64("records", i.stats.Records),
		zap.Int64("lines", i.stats.Lines),
		zap.Int64("batches", i.stats.Batches),
		zap.Int64("docs_indexed", i.stats.Indexed),
		zap.Int64("docs_failed", i.stats.Failed),
	)
	return i.stats, nil
}

func (i *Importer) flush(ctx context.Context, batch Batch) error {
	n := len(batch)
	defer func() {
		attrs := metric.WithAttributeSet(i.config.MetricAttributes)
		i.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	}()

	logger := i.config.Logger
	var tx *apm.Transaction
	if i.config.Tracer != nil && i.config.Tracer.Recording() {
		tx = i.config.Tracer.StartTransaction("docmover.flush", "output")
		tx.Context.SetLabel("lines", n)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}

	var span trace.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, "docmover.flush", trace.WithAttributes(
			attribute.Int("lines", n),
		))
		defer span.End()
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	var stat BulkStat
	var err error
	took := timeFunc(func() {
		stat, err = i.sender.Send(ctx, batch)
	})
	attrs := metric.WithAttributeSet(i.config.MetricAttributes)
	i.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
	var flushed int
	if i.bulk != nil {
		flushed = i.bulk.BytesFlushed()
	}
	if flushed > 0 {
		i.metrics.bytesTotal.Add(context.Background(), int64(flushed), attrs)
	}
	if err != nil {
		logger.Error("bulk indexing request failed", zap.Error(err))
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}
		if tx != nil {
			tx.Outcome = "failure"
			apm.CaptureError(ctx, err).Send()
		}
		return err
	}
	i.stats.Batches++
	if tx != nil {
		tx.Outcome = "success"
	}

	var tooManyRequests, clientFailed, serverFailed int64
	var failedCount map[BulkItem]int
	if len(stat.FailedDocs) > 0 {
		failedCount = make(map[BulkItem]int, len(stat.FailedDocs))
	}
	for _, info := range stat.FailedDocs {
		switch {
		case info.Status == http.StatusTooManyRequests:
			tooManyRequests++
		case info.Status >= 500:
			serverFailed++
		default:
			clientFailed++
		}
		info.Position = 0 // reset position so that the response item can be used as key in the map
		failedCount[info]++
	}
	for key, count := range failedCount {
		logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.Index, key.Error.Type, key.Error.Reason,
		), zap.Int("documents", count))
	}
	if span != nil && len(stat.FailedDocs) > 0 {
		span.SetStatus(codes.Error, "some documents failed to index")
	}

	docsFailed := int64(len(stat.FailedDocs))
	i.stats.Indexed += stat.Indexed
	i.stats.Failed += docsFailed
	for status, count := range map[string]int64{
		"Success":      stat.Indexed,
		"TooMany":      tooManyRequests,
		"FailedClient": clientFailed,
		"FailedServer": serverFailed,
	} {
		if count > 0 {
			i.metrics.docsIndexed.Add(
				context.Background(),
				count,
				metric.WithAttributeSet(i.config.MetricAttributes),
				metric.WithAttributes(attribute.String("status", status)),
			)
		}
	}
	logger.Debug(
		"bulk request completed",
		zap.Int("lines", n),
		zap.Int("bytes", flushed),
		zap.Int64("docs_indexed", stat.Indexed),
		zap.Int64("docs_failed", docsFailed),
		zap.Int64("docs_rate_limited", tooManyRequests),
	)
	if span != nil && docsFailed == 0 {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
