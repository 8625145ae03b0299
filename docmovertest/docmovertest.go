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

// Package docmovertest provides an in-process Elasticsearch stand-in for
// testing bulk imports and scrolled exports.
package docmovertest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// BulkEntry is one operation of a decoded bulk request body.
type BulkEntry struct {
	// Operation holds the action name: index, create, update or delete.
	Operation string

	// Action holds the raw action line.
	Action json.RawMessage

	// Document holds the raw document line. It is empty for deletes.
	Document json.RawMessage
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// entries and a response body acknowledging every one of them.
func DecodeBulkRequest(r *http.Request) ([]BulkEntry, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(nil, 64<<20)
	var entries []BulkEntry
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		entry := BulkEntry{Action: append(json.RawMessage{}, scanner.Bytes()...)}
		action := make(map[string]json.RawMessage)
		if err := json.Unmarshal(entry.Action, &action); err != nil {
			panic(err)
		}
		if len(action) != 1 {
			panic(fmt.Errorf("expected a single operation, got %s", entry.Action))
		}
		for entry.Operation = range action {
		}
		if entry.Operation != "delete" {
			if !scanner.Scan() {
				panic("expected source")
			}
			entry.Document = append(json.RawMessage{}, scanner.Bytes()...)
			if !json.Valid(entry.Document) {
				panic(fmt.Errorf("invalid JSON: %s", entry.Document))
			}
		}
		entries = append(entries, entry)

		item := esutil.BulkIndexerResponseItem{Index: r.PathValue("index"), Status: http.StatusCreated}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{entry.Operation: item})
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	return entries, result
}

// Documents returns the documents of entries, in order.
func Documents(entries []BulkEntry) []json.RawMessage {
	docs := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if e.Document != nil {
			docs = append(docs, e.Document)
		}
	}
	return docs
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends /_bulk requests to bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, bulkHandler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an elasticsearch.Config which
// sends /_bulk requests to bulkHandler. The httptest.Server will be closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, bulkHandler http.HandlerFunc) elasticsearch.Config {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	return newMockConfig(t, mux)
}

// NewMockSearchClient returns an elasticsearch.Client which serves search,
// scroll and clear scroll requests from index.
func NewMockSearchClient(t testing.TB, index *SearchIndex) *elasticsearch.Client {
	mux := http.NewServeMux()
	index.Register(mux)
	client, err := elasticsearch.NewClient(newMockConfig(t, mux))
	require.NoError(t, err)
	return client
}

func newMockConfig(t testing.TB, mux *http.ServeMux) elasticsearch.Config {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)
	return config
}

// HandleBulk registers bulkHandler with mux for handling /_bulk and
// /{index}/_bulk requests, wrapping bulkHandler to conform with
// go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	handler := withProductHeader(bulkHandler)
	mux.HandleFunc("/_bulk", handler)
	mux.HandleFunc("/{index}/_bulk", handler)
}

func withProductHeader(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		h.ServeHTTP(w, r)
	}
}

// AssertOTelMetrics asserts that ms is not empty, and calls assert with
// every metric in it.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assert func(m metricdata.Metrics)) {
	t.Helper()
	require.NotEmpty(t, ms)
	for _, m := range ms {
		assert(m)
	}
}

// Hit returns a search hit envelope for a document with the given index,
// id and _source.
func Hit(index, id string, source json.RawMessage) json.RawMessage {
	hit, err := json.Marshal(struct {
		Index  string          `json:"_index"`
		ID     string          `json:"_id"`
		Score  float64         `json:"_score"`
		Source json.RawMessage `json:"_source"`
	}{index, id, 1, source})
	if err != nil {
		panic(err)
	}
	return hit
}

// SearchIndex is an in-memory list of search hits served through the
// search, scroll and clear scroll APIs. Every search request returns all
// hits, page by page, whatever its query.
type SearchIndex struct {
	hits []json.RawMessage

	mu       sync.Mutex
	nextID   int
	cursors  map[string]*cursor
	queries  []json.RawMessage
	indices  []string
	cleared  []string
	requests int
}

type cursor struct {
	offset int
	size   int
}

// NewSearchIndex returns a SearchIndex serving hits in order.
func NewSearchIndex(hits ...json.RawMessage) *SearchIndex {
	return &SearchIndex{hits: hits, cursors: make(map[string]*cursor)}
}

// Register registers the search handlers with mux.
func (s *SearchIndex) Register(mux *http.ServeMux) {
	mux.HandleFunc("/_search", withProductHeader(s.handleSearch))
	mux.HandleFunc("/{index}/_search", withProductHeader(s.handleSearch))
	mux.HandleFunc("/_search/scroll", withProductHeader(s.handleScroll))
	mux.HandleFunc("DELETE /_search/scroll", withProductHeader(s.handleClearScroll))
}

// Queries returns the bodies of the search requests received so far.
func (s *SearchIndex) Queries() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.queries...)
}

// Indices returns the index path parameter of every search request, empty
// when no index was given.
func (s *SearchIndex) Indices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indices...)
}

// ClearedScrollIDs returns the scroll IDs released so far.
func (s *SearchIndex) ClearedScrollIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleared...)
}

// Requests returns the number of search and scroll requests served.
func (s *SearchIndex) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *SearchIndex) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size := 10
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.indices = append(s.indices, r.PathValue("index"))
	s.nextID++
	id := "scroll-" + strconv.Itoa(s.nextID)
	c := &cursor{size: size}
	s.cursors[id] = c
	s.mu.Unlock()

	s.writePage(w, id, c)
}

func (s *SearchIndex) handleScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID string `json:"scroll_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	c, ok := s.cursors[body.ScrollID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":{"type":"search_context_missing_exception"}}`, http.StatusNotFound)
		return
	}
	s.writePage(w, body.ScrollID, c)
}

func (s *SearchIndex) handleClearScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID []string `json:"scroll_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	var freed int
	for _, id := range body.ScrollID {
		if _, ok := s.cursors[id]; ok {
			delete(s.cursors, id)
			freed++
		}
		s.cleared = append(s.cleared, id)
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"succeeded": true, "num_freed": freed})
}

func (s *SearchIndex) writePage(w http.ResponseWriter, id string, c *cursor) {
	s.mu.Lock()
	s.requests++
	end := min(c.offset+c.size, len(s.hits))
	page := s.hits[c.offset:end]
	c.offset = end
	s.mu.Unlock()

	var resp struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []json.RawMessage `json:"hits"`
		} `json:"hits"`
	}
	resp.ScrollID = id
	resp.Hits.Total.Value = len(s.hits)
	resp.Hits.Hits = append([]json.RawMessage{}, page...)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
