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
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/elastic/go-docmover"
)

const sampleLines = "{\"a\":1}\n\n  {\"a\":2}  \n{\"a\":3}"

func utf8Codec(t testing.TB) *docmover.Codec {
	codec, err := docmover.LookupCodec("")
	require.NoError(t, err)
	return codec
}

func readAll(t testing.TB, r docmover.RecordReader) []docmover.Record {
	t.Helper()
	defer r.Close()
	var records []docmover.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func writeFile(t testing.TB, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func compress(t testing.TB, ext string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch ext {
	case ".gz":
		w = gzip.NewWriter(&buf)
	case ".zst":
		w, err = zstd.NewWriter(&buf)
	case ".xz":
		w, err = xz.NewWriter(&buf)
	default:
		t.Fatalf("unexpected extension %s", ext)
	}
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpenRecordsLines(t *testing.T) {
	expect := []docmover.Record{
		{Num: 1, Line: []byte(`{"a":1}`)},
		{Num: 3, Line: []byte(`{"a":2}`)},
		{Num: 4, Line: []byte(`{"a":3}`)},
	}
	for _, ext := range []string{".json", ".jsonl", ".ndjson", ".NDJSON"} {
		t.Run(ext, func(t *testing.T) {
			path := writeFile(t, "input"+ext, []byte(sampleLines))
			r, err := docmover.OpenRecords(path, utf8Codec(t))
			require.NoError(t, err)
			assert.Equal(t, expect, readAll(t, r))
		})
	}
	for _, ext := range []string{".gz", ".zst", ".xz"} {
		t.Run(ext, func(t *testing.T) {
			path := writeFile(t, "input.json"+ext, compress(t, ext, []byte(sampleLines)))
			r, err := docmover.OpenRecords(path, utf8Codec(t))
			require.NoError(t, err)
			assert.Equal(t, expect, readAll(t, r))
		})
	}
	t.Run(".bz2", func(t *testing.T) {
		r, err := docmover.OpenRecords(filepath.Join("testdata", "input.json.bz2"), utf8Codec(t))
		require.NoError(t, err)
		assert.Equal(t, expect, readAll(t, r))
	})
}

func TestOpenRecordsCorruptCompression(t *testing.T) {
	t.Run(".gz", func(t *testing.T) {
		path := writeFile(t, "input.json.gz", []byte(sampleLines))
		_, err := docmover.OpenRecords(path, utf8Codec(t))
		assert.ErrorContains(t, err, "failed to decompress")
	})
	t.Run(".bz2", func(t *testing.T) {
		path := writeFile(t, "input.json.bz2", []byte(sampleLines))
		r, err := docmover.OpenRecords(path, utf8Codec(t))
		require.NoError(t, err)
		defer r.Close()
		_, err = r.Next()
		var recErr *docmover.RecordError
		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, 1, recErr.Num)
	})
}

func TestOpenRecordsInvalidUTF8(t *testing.T) {
	for name, tc := range map[string]struct {
		content string
		num     int
	}{
		"input.json": {content: "{\"a\":1}\n{\"a\":\"\xff\xfe\"}\n", num: 2},
		"input.csv":  {content: "a\nok\n\xff\xfe\n", num: 3},
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, []byte(tc.content))
			r, err := docmover.OpenRecords(path, utf8Codec(t))
			require.NoError(t, err)
			defer r.Close()

			_, err = r.Next()
			require.NoError(t, err)
			_, err = r.Next()
			var recErr *docmover.RecordError
			require.ErrorAs(t, err, &recErr)
			assert.Equal(t, tc.num, recErr.Num)
			var decodeErr *docmover.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, "utf-8", decodeErr.Encoding)
		})
	}
}

func TestOpenRecordsZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct{ name, content string }{
		{"first.json", `{"a":1}`},
		{"dir/", ""},
		{"dir/second.json", "{\"a\":2}\n{\"a\":3}\n"},
	} {
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entry.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := writeFile(t, "input.zip", buf.Bytes())
	r, err := docmover.OpenRecords(path, utf8Codec(t))
	require.NoError(t, err)
	var lines []string
	for _, rec := range readAll(t, r) {
		lines = append(lines, string(rec.Line))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, lines)
}

func TestOpenRecordsCSV(t *testing.T) {
	path := writeFile(t, "input.csv", []byte("name,count,ratio,code\nfoo,1,0.5,007\n\"b,ar\",NaN,1e3,x\n"))
	r, err := docmover.OpenRecords(path, utf8Codec(t))
	require.NoError(t, err)
	records := readAll(t, r)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].Num)
	assert.Equal(t, `{"name":"foo","count":1,"ratio":0.5,"code":7}`, string(records[0].Line))
	assert.Equal(t, `{"name":"b,ar","count":"NaN","ratio":1000,"code":"x"}`, string(records[1].Line))
}

func TestOpenRecordsCSVQuoting(t *testing.T) {
	path := writeFile(t, "input.csv", []byte("zip,name,n\r\n\"02134\",\"123\",4\r\n\"multi\nline\",5,\"6\"\r\n"))
	r, err := docmover.OpenRecords(path, utf8Codec(t))
	require.NoError(t, err)
	records := readAll(t, r)
	require.Len(t, records, 2)
	assert.Equal(t, `{"zip":"02134","name":"123","n":4}`, string(records[0].Line))
	assert.Equal(t, `{"zip":"multi\nline","name":5,"n":"6"}`, string(records[1].Line))
}

func TestOpenRecordsCSVEncoding(t *testing.T) {
	path := writeFile(t, "input.csv", []byte("name\ncaf\xe9\n"))
	codec, err := docmover.LookupCodec("latin1")
	require.NoError(t, err)
	r, err := docmover.OpenRecords(path, codec)
	require.NoError(t, err)
	records := readAll(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, `{"name":"café"}`, string(records[0].Line))
}

func TestOpenRecordsMalformedLine(t *testing.T) {
	path := writeFile(t, "input.json", []byte("{\"a\":1}\n{\"a\":\n"))
	r, err := docmover.OpenRecords(path, utf8Codec(t))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	var recErr *docmover.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 2, recErr.Num)
}

func TestOpenRecordsUnsupportedFormat(t *testing.T) {
	_, err := docmover.OpenRecords("input.txt", utf8Codec(t))
	assert.ErrorIs(t, err, docmover.ErrUnsupportedFormat)
	var formatErr *docmover.UnsupportedFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, ".txt", formatErr.Extension)
}

func TestOpenRecordsMissingFile(t *testing.T) {
	_, err := docmover.OpenRecords(filepath.Join(t.TempDir(), "missing.json"), utf8Codec(t))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
