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
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"go.elastic.co/fastjson"
)

// maxLineSize bounds a single input line. Bulk documents larger than this
// are rejected by Elasticsearch long before they reach it.
const maxLineSize = 64 << 20

// Record is one decoded input line or CSV row.
type Record struct {
	// Num is the 1-based line or row number in the source.
	Num int

	// Line holds the record as JSON text.
	Line []byte
}

// RecordReader is a lazy, non-restartable sequence of records.
type RecordReader interface {
	// Next returns the next record, or io.EOF once the source is exhausted.
	Next() (Record, error)

	// Close releases every handle held by the reader.
	Close() error
}

// format is the closed set of input variants. Each opens a path as a
// RecordReader.
type format interface {
	open(path string, codec *Codec) (RecordReader, error)
}

type (
	stdinFormat struct{ r io.Reader }
	plainFormat struct{}
	csvFormat   struct{}
	zipFormat   struct{}

	compressedFormat struct {
		newReader func(io.Reader) (io.ReadCloser, error)
	}
)

var formats = map[string]format{
	".json":   plainFormat{},
	".jsonl":  plainFormat{},
	".ndjson": plainFormat{},
	".csv":    csvFormat{},
	".zip":    zipFormat{},
	".gz": compressedFormat{newReader: func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	}},
	".bz2": compressedFormat{newReader: func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	}},
	".xz": compressedFormat{newReader: func(r io.Reader) (io.ReadCloser, error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	}},
	".zst": compressedFormat{newReader: func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}},
}

// OpenRecords opens path as a RecordReader, selecting the decoder from the
// file extension. StdinPath reads line-delimited JSON from os.Stdin.
func OpenRecords(path string, codec *Codec) (RecordReader, error) {
	f, err := formatFor(path, os.Stdin)
	if err != nil {
		return nil, err
	}
	return f.open(path, codec)
}

// formatFor selects the input variant once, before anything is read.
// Standard input is always plain line-delimited text: it is never
// decompressed and never parsed as CSV.
func formatFor(path string, stdin io.Reader) (format, error) {
	if path == StdinPath {
		return stdinFormat{r: stdin}, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := formats[ext]
	if !ok {
		return nil, &UnsupportedFormatError{Path: path, Extension: ext}
	}
	return f, nil
}

func isCSV(path string) bool {
	return path != StdinPath && strings.EqualFold(filepath.Ext(path), ".csv")
}

func (f stdinFormat) open(_ string, codec *Codec) (RecordReader, error) {
	return newLineReader(f.r, codec), nil
}

func (plainFormat) open(path string, codec *Codec) (RecordReader, error) {
	file, err := openInput(path)
	if err != nil {
		return nil, err
	}
	return newLineReader(file, codec, file), nil
}

func (f compressedFormat) open(path string, codec *Codec) (RecordReader, error) {
	file, err := openInput(path)
	if err != nil {
		return nil, err
	}
	rc, err := f.newReader(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return newLineReader(rc, codec, rc, file), nil
}

// open reads every regular entry of the archive in order, as if the entries
// were concatenated.
func (zipFormat) open(path string, codec *Codec) (RecordReader, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive %s: %w", path, err)
	}
	var readers []io.Reader
	var closers []io.Closer
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			closeAll(append(closers, archive))
			return nil, fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
		}
		closers = append(closers, rc)
		// Entries without a trailing newline must not merge with the next
		// entry's first line.
		readers = append(readers, rc, strings.NewReader("\n"))
	}
	closers = append(closers, archive)
	return newLineReader(io.MultiReader(readers...), codec, closers...), nil
}

func (csvFormat) open(path string, codec *Codec) (RecordReader, error) {
	file, err := openInput(path)
	if err != nil {
		return nil, err
	}
	raw := &rawCapture{r: codec.NewReader(file), line: 1}
	r := csv.NewReader(raw)
	r.ReuseRecord = true
	return &csvReader{reader: r, raw: raw, codec: codec, file: file}, nil
}

func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

type lineReader struct {
	scanner *bufio.Scanner
	codec   *Codec
	closers []io.Closer
	num     int
}

// newLineReader reads lines of r decoded with codec.
func newLineReader(r io.Reader, codec *Codec, closers ...io.Closer) *lineReader {
	scanner := bufio.NewScanner(codec.NewReader(r))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &lineReader{scanner: scanner, codec: codec, closers: closers}
}

// Next returns the next non-blank line. Every line must hold exactly one
// JSON value.
func (r *lineReader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.num++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if r.codec.isUTF8() && !utf8.Valid(line) {
			return Record{}, &RecordError{Num: r.num, Err: r.codec.invalidUTF8()}
		}
		if !jsoniter.Valid(line) {
			return Record{}, &RecordError{Num: r.num, Err: errMalformedJSON}
		}
		return Record{Num: r.num, Line: slices.Clone(line)}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, &RecordError{Num: r.num + 1, Err: err}
	}
	return Record{}, io.EOF
}

func (r *lineReader) Close() error {
	return closeAll(r.closers)
}

// csvReader renders each row as a JSON object keyed by the header row, in
// header order. Unquoted fields that parse as finite numbers become JSON
// numbers; quoted fields and everything else are strings.
type csvReader struct {
	reader *csv.Reader
	raw    *rawCapture
	codec  *Codec
	file   *os.File
	header []string
	jsonw  fastjson.Writer
	num    int
}

func (r *csvReader) Next() (Record, error) {
	if r.header == nil {
		header, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		if err != nil {
			return Record{}, &RecordError{Num: 1, Err: err}
		}
		if err := r.checkUTF8(header); err != nil {
			return Record{}, &RecordError{Num: 1, Err: err}
		}
		r.header = slices.Clone(header)
		r.num = 1
		r.raw.discard(r.lastLine(len(header)))
	}
	row, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return Record{}, io.EOF
	}
	r.num++
	if err != nil {
		return Record{}, &RecordError{Num: r.num, Err: err}
	}
	if err := r.checkUTF8(row); err != nil {
		return Record{}, &RecordError{Num: r.num, Err: err}
	}

	r.jsonw.Reset()
	r.jsonw.RawByte('{')
	for i, name := range r.header {
		if i > 0 {
			r.jsonw.RawByte(',')
		}
		r.jsonw.String(name)
		r.jsonw.RawByte(':')
		line, col := r.reader.FieldPos(i)
		writeCSVValue(&r.jsonw, row[i], r.raw.quoted(line, col))
	}
	r.jsonw.RawByte('}')
	r.raw.discard(r.lastLine(len(row)))
	return Record{Num: r.num, Line: slices.Clone(r.jsonw.Bytes())}, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

func (r *csvReader) checkUTF8(fields []string) error {
	if !r.codec.isUTF8() {
		return nil
	}
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return r.codec.invalidUTF8()
		}
	}
	return nil
}

// lastLine returns the input line holding the last field of the record
// just read.
func (r *csvReader) lastLine(fields int) int {
	line, _ := r.reader.FieldPos(fields - 1)
	return line
}

// rawCapture keeps the text the csv.Reader has consumed, starting at the
// current record, so that fields can be told apart by their quoting.
type rawCapture struct {
	r    io.Reader
	buf  []byte
	line int // input line of buf[0]
}

func (c *rawCapture) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.buf = append(c.buf, p[:n]...)
	return n, err
}

// lineOffset returns the offset in buf where line starts, or -1.
func (c *rawCapture) lineOffset(line int) int {
	off := 0
	for l := c.line; l < line; l++ {
		i := bytes.IndexByte(c.buf[off:], '\n')
		if i < 0 {
			return -1
		}
		off += i + 1
	}
	return off
}

// quoted reports whether the field starting at line and col (as returned by
// csv.Reader.FieldPos) opens with a quote.
func (c *rawCapture) quoted(line, col int) bool {
	off := c.lineOffset(line)
	if off < 0 {
		return false
	}
	i := off + col - 1
	return i < len(c.buf) && c.buf[i] == '"'
}

// discard drops the text before line.
func (c *rawCapture) discard(line int) {
	off := c.lineOffset(line)
	if off <= 0 {
		return
	}
	c.buf = append(c.buf[:0], c.buf[off:]...)
	c.line = line
}

func writeCSVValue(w *fastjson.Writer, v string, quoted bool) {
	if quoted {
		w.String(v)
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		w.Float64(f)
		return
	}
	w.String(v)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
