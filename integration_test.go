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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docmover"
)

func TestIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}

	conn := docmover.ConnectionConfig{
		Username: "admin",
		Password: "changeme",
		Insecure: true,
	}
	client, err := docmover.NewClient(conn)
	require.NoError(t, err)

	index := "docmover-integration-testing"
	deleteIndex := func() {
		resp, err := esapi.IndicesDeleteRequest{Index: []string{index}}.Do(context.Background(), client)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	const N = 100
	input := writeFile(t, "input.json", []byte(newDocs(N)))
	importer, err := docmover.NewImporter(client, docmover.Config{
		Connection: conn,
		InputPath:  input,
		Index:      index,
		IDField:    "id.n",
		ChunkSize:  30,
	})
	require.NoError(t, err)
	stats, err := importer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(N), stats.Indexed)

	// Check that docs are indexed.
	resp, err := esapi.IndicesRefreshRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	resp.Body.Close()

	var out bytes.Buffer
	exporter, err := docmover.NewExporter(client, docmover.Config{
		Connection: conn,
		Index:      index,
		QueryPath:  docmover.StdinPath,
		ChunkSize:  7,
		Stdin:      strings.NewReader(`{"query":{"match_all":{}},"sort":["_doc"]}`),
		Stdout:     &out,
	})
	require.NoError(t, err)
	exported, err := exporter.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(N), exported.Written)

	seen := make(map[int]bool)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var doc struct {
			ID struct {
				N int `json:"n"`
			} `json:"id"`
			Msg string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &doc))
		assert.Equal(t, fmt.Sprintf("doc %d", doc.ID.N), doc.Msg)
		seen[doc.ID.N] = true
	}
	assert.Len(t, seen, N)
}
