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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	docesapi "github.com/elastic/go-docmover/esapi"
)

// Hit is one search hit: the full envelope, and its _source.
type Hit struct {
	Full   json.RawMessage
	Source json.RawMessage
}

type scrollPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []json.RawMessage `json:"hits"`
	} `json:"hits"`
}

type hitEnvelope struct {
	Source json.RawMessage `json:"_source"`
}

// ScrollConfig holds the parameters of a scrolled search.
type ScrollConfig struct {
	// Index holds the index to search. If empty, all indices are searched.
	Index string

	// Size holds the number of hits per page.
	//
	// If Size is zero, the default of 1000 will be used.
	Size int

	// KeepAlive holds how long the search context is kept alive between
	// pages.
	//
	// If KeepAlive is zero, the default of 20 minutes will be used.
	KeepAlive time.Duration

	// Logger holds an optional Logger. If nil, logging is disabled.
	Logger *zap.Logger

	// TracerProvider holds an optional OTel TracerProvider used to create a
	// span per fetched page.
	TracerProvider trace.TracerProvider
}

// ScrollReader consumes a scrolled search page by page.
//
// The scroll cursor is owned by the reader. A page is fetched only once all
// hits of the previous page have been returned by Next.
type ScrollReader struct {
	client   elastictransport.Interface
	config   ScrollConfig
	query    []byte
	tracer   trace.Tracer
	metrics  *metrics
	attrs    attribute.Set
	scrollID string
	page     []json.RawMessage
	pos      int
	started  bool
	done     bool
	cleared  bool
}

// NewScrollReader returns a ScrollReader running query against client. No
// request is sent until the first call to Next.
func NewScrollReader(client elastictransport.Interface, cfg ScrollConfig, query []byte) *ScrollReader {
	if cfg.Size <= 0 {
		cfg.Size = DefaultChunkSize
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultScrollKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &ScrollReader{client: client, config: cfg, query: query}
	if cfg.TracerProvider != nil {
		r.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docmover.scroll")
	}
	return r
}

// Next returns the next hit, or io.EOF once the search is exhausted.
func (r *ScrollReader) Next(ctx context.Context) (Hit, error) {
	for r.pos >= len(r.page) {
		if r.done {
			return Hit{}, io.EOF
		}
		if err := r.fetch(ctx); err != nil {
			return Hit{}, err
		}
	}
	raw := r.page[r.pos]
	r.pos++

	var envelope hitEnvelope
	if err := jsoniter.Unmarshal(raw, &envelope); err != nil {
		return Hit{}, fmt.Errorf("error decoding search hit: %w", err)
	}
	return Hit{Full: raw, Source: envelope.Source}, nil
}

func (r *ScrollReader) fetch(ctx context.Context) (err error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "docmover.scroll_page")
		defer func() {
			span.SetAttributes(attribute.Int("hits", len(r.page)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "scroll request failed")
			}
			span.End()
		}()
	}

	var res *esapi.Response
	if !r.started {
		size := r.config.Size
		req := esapi.SearchRequest{
			Body:   bytes.NewReader(r.query),
			Scroll: r.config.KeepAlive,
			Size:   &size,
		}
		if r.config.Index != "" {
			req.Index = []string{r.config.Index}
		}
		res, err = req.Do(ctx, r.client)
		r.started = true
	} else {
		body, _ := jsoniter.Marshal(map[string]string{
			"scroll":    docesapi.FormatDuration(r.config.KeepAlive),
			"scroll_id": r.scrollID,
		})
		res, err = esapi.ScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, r.client)
	}
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("scroll failed: %s", res.String())
	}

	var page scrollPage
	if err := jsoniter.NewDecoder(res.Body).Decode(&page); err != nil {
		return fmt.Errorf("error decoding scroll response: %w", err)
	}
	if page.ScrollID != "" {
		r.scrollID = page.ScrollID
	}
	r.page = page.Hits.Hits
	r.pos = 0
	if len(r.page) == 0 {
		r.done = true
	}
	if r.metrics != nil {
		r.metrics.scrollPages.Add(context.Background(), 1, metric.WithAttributeSet(r.attrs))
	}
	r.config.Logger.Debug("scroll page fetched", zap.Int("hits", len(r.page)))
	return nil
}

// Close releases the server-side search context. It is safe to call more
// than once.
func (r *ScrollReader) Close(ctx context.Context) error {
	if r.cleared || r.scrollID == "" {
		return nil
	}
	r.cleared = true
	body, _ := jsoniter.Marshal(map[string][]string{"scroll_id": {r.scrollID}})
	res, err := esapi.ClearScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to clear scroll: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("failed to clear scroll: %s", res.String())
	}
	return nil
}

// OpenQuery reads the search request body from path, or from os.Stdin when
// path is StdinPath. The file is closed before OpenQuery returns.
func OpenQuery(path string, codec *Codec) ([]byte, error) {
	return readQuery(path, codec, os.Stdin)
}

func readQuery(path string, codec *Codec, stdin io.Reader) ([]byte, error) {
	var src io.Reader = stdin
	if path != StdinPath {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open query: %w", err)
		}
		defer f.Close()
		src = f
	}
	query, err := io.ReadAll(codec.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}
	query = bytes.TrimSpace(query)
	if !jsoniter.Valid(query) {
		return nil, fmt.Errorf("failed to read query: %w", errMalformedJSON)
	}
	return query, nil
}
