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

package docmover_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/elastic/go-docmover"
	"github.com/elastic/go-docmover/docmovertest"
)

func newHits(n int) []json.RawMessage {
	hits := make([]json.RawMessage, n)
	for i := range hits {
		hits[i] = docmovertest.Hit("testidx", fmt.Sprint(i), json.RawMessage(fmt.Sprintf(`{"n":%d,"z":true,"a":"x"}`, i)))
	}
	return hits
}

func TestScrollReader(t *testing.T) {
	index := docmovertest.NewSearchIndex(newHits(7)...)
	client := docmovertest.NewMockSearchClient(t, index)

	exp := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())

	reader := docmover.NewScrollReader(client, docmover.ScrollConfig{
		Index:          "testidx",
		Size:           3,
		KeepAlive:      time.Minute,
		TracerProvider: tp,
	}, []byte(`{"query":{"match_all":{}}}`))

	var sources []string
	for {
		hit, err := reader.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sources = append(sources, string(hit.Source))

		var full struct {
			ID string `json:"_id"`
		}
		require.NoError(t, json.Unmarshal(hit.Full, &full))
		assert.Equal(t, fmt.Sprint(len(sources)-1), full.ID)
	}
	require.Len(t, sources, 7)
	// Key order of every _source is preserved.
	assert.Equal(t, `{"n":0,"z":true,"a":"x"}`, sources[0])
	assert.Equal(t, `{"n":6,"z":true,"a":"x"}`, sources[6])

	// 3 + 3 + 1 hits, then an empty page.
	assert.Equal(t, 4, index.Requests())
	assert.Equal(t, []string{"testidx"}, index.Indices())
	require.Len(t, index.Queries(), 1)
	assert.JSONEq(t, `{"query":{"match_all":{}}}`, string(index.Queries()[0]))
	assert.Len(t, exp.GetSpans(), 4)
	for _, span := range exp.GetSpans() {
		assert.Equal(t, "docmover.scroll_page", span.Name)
	}

	// Next keeps returning io.EOF.
	_, err := reader.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, reader.Close(context.Background()))
	require.NoError(t, reader.Close(context.Background()))
	assert.Equal(t, []string{"scroll-1"}, index.ClearedScrollIDs())
}

func TestScrollReaderEmpty(t *testing.T) {
	index := docmovertest.NewSearchIndex()
	client := docmovertest.NewMockSearchClient(t, index)

	reader := docmover.NewScrollReader(client, docmover.ScrollConfig{}, []byte(`{}`))
	_, err := reader.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{""}, index.Indices())
	require.NoError(t, reader.Close(context.Background()))
	assert.Equal(t, []string{"scroll-1"}, index.ClearedScrollIDs())
}

func TestScrollReaderCloseBeforeSearch(t *testing.T) {
	index := docmovertest.NewSearchIndex(newHits(1)...)
	client := docmovertest.NewMockSearchClient(t, index)

	reader := docmover.NewScrollReader(client, docmover.ScrollConfig{}, []byte(`{}`))
	require.NoError(t, reader.Close(context.Background()))
	assert.Zero(t, index.Requests())
	assert.Empty(t, index.ClearedScrollIDs())
}

func TestScrollReaderSearchFailure(t *testing.T) {
	client := docmovertest.NewMockElasticsearchClient(t, func(http.ResponseWriter, *http.Request) {})
	reader := docmover.NewScrollReader(client, docmover.ScrollConfig{}, []byte(`{}`))
	_, err := reader.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scroll failed")
}
