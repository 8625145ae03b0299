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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docmover"
)

func linesToStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = string(line)
	}
	return out
}

func TestActionGeneratorGenerate(t *testing.T) {
	g, err := docmover.NewActionGenerator(docmover.ActionConfig{})
	require.NoError(t, err)

	lines, err := g.Lines(docmover.Record{Num: 1, Line: []byte(`{ "a" : 1,  "b":[1, 2] }`)})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"index":{}}`, `{"a":1,"b":[1,2]}`}, linesToStrings(lines))

	_, err = g.Lines(docmover.Record{Num: 2, Line: []byte(`[1,2]`)})
	var recErr *docmover.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 2, recErr.Num)
}

func TestActionGeneratorIDField(t *testing.T) {
	for _, tc := range []struct {
		doc    string
		path   string
		expect string
		err    bool
	}{
		{doc: `{"a":{"b":7}}`, path: "a.b", expect: `{"index":{"_id":"7"}}`},
		{doc: `{"a":{"b":7}}`, path: "a.c", err: true},
		{doc: `{"a":{"b":7}}`, path: "a.b.c", err: true},
		{doc: `{"a":{"b":{"c":1}}}`, path: "a.b", err: true},
		{doc: `{"a":{"b":null}}`, path: "a.b", err: true},
		{doc: `{"id":"x\"y"}`, path: "id", expect: `{"index":{"_id":"x\"y"}}`},
		{doc: `{"id":true}`, path: "id", expect: `{"index":{"_id":"true"}}`},
		{doc: `{"id":1.5e3}`, path: "id", expect: `{"index":{"_id":"1.5e3"}}`},
		{doc: `{"a.b":1}`, path: "a.b", err: true},
	} {
		t.Run(fmt.Sprintf("%s/%s", tc.doc, tc.path), func(t *testing.T) {
			g, err := docmover.NewActionGenerator(docmover.ActionConfig{IDField: tc.path})
			require.NoError(t, err)
			lines, err := g.Lines(docmover.Record{Num: 1, Line: []byte(tc.doc)})
			if tc.err {
				assert.True(t, errors.Is(err, docmover.ErrKeyLookup), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Len(t, lines, 2)
			assert.Equal(t, tc.expect, string(lines[0]))
			assert.Equal(t, tc.doc, string(lines[1]))
		})
	}
}

func TestActionGeneratorPassThrough(t *testing.T) {
	g, err := docmover.NewActionGenerator(docmover.ActionConfig{PassThrough: true})
	require.NoError(t, err)

	for _, tc := range []struct {
		in, out string
	}{
		{in: `{"index":{"_index":"a","_type":"doc","_id":"1"}}`, out: `{"index":{"_index":"a","_id":"1"}}`},
		{in: `{"create":{"_type":"doc"}}`, out: `{"create":{}}`},
		{in: `{"delete":{"_id":"1","_type":"_doc"}}`, out: `{"delete":{"_id":"1"}}`},
		{in: `{"update":{"_id":"1"}}`, out: `{"update":{"_id":"1"}}`},
		{in: `{"index":{}}`, out: `{"index":{}}`},
		{in: `{"doc":{"_type":"x"}}`, out: `{"doc":{"_type":"x"}}`},
		{in: `{"index":{"_type":"x"},"other":1}`, out: `{"index":{"_type":"x"},"other":1}`},
		{in: `{"index":"x"}`, out: `{"index":"x"}`},
		{in: `{"a": 1}`, out: `{"a":1}`},
	} {
		lines, err := g.Lines(docmover.Record{Num: 1, Line: []byte(tc.in)})
		require.NoError(t, err, tc.in)
		assert.Equal(t, []string{tc.out}, linesToStrings(lines), tc.in)
	}
}

func TestActionGeneratorNeverEmitsType(t *testing.T) {
	g, err := docmover.NewActionGenerator(docmover.ActionConfig{PassThrough: true})
	require.NoError(t, err)
	for _, op := range []string{"index", "create", "update", "delete"} {
		lines, err := g.Lines(docmover.Record{Line: []byte(`{"` + op + `":{"_type":"t","_index":"i"}}`)})
		require.NoError(t, err)
		assert.NotContains(t, string(lines[0]), "_type")
	}
}

func TestNewActionGeneratorInvalidConfig(t *testing.T) {
	_, err := docmover.NewActionGenerator(docmover.ActionConfig{PassThrough: true, IDField: "a"})
	assert.ErrorIs(t, err, docmover.ErrInvalidConfig)
}

func TestResolveKeyPath(t *testing.T) {
	id, err := docmover.ResolveKeyPath([]byte(`{"a":{"b":"c"}}`), "a.b")
	require.NoError(t, err)
	assert.Equal(t, "c", id)

	_, err = docmover.ResolveKeyPath([]byte(`{"a":[{"b":1}]}`), "a.0.b")
	var lookupErr *docmover.KeyLookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "a.0.b", lookupErr.Path)
	assert.Equal(t, "0", lookupErr.Segment)
}

func BenchmarkActionGenerator(b *testing.B) {
	g, err := docmover.NewActionGenerator(docmover.ActionConfig{IDField: "event.id"})
	require.NoError(b, err)
	rec := docmover.Record{Num: 1, Line: []byte(`{"@timestamp":"2024-01-01T00:00:00.000Z","event":{"id":"abc","kind":"event"},"message":"hello world"}`)}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Lines(rec); err != nil {
			b.Fatal(err)
		}
	}
}
