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
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var errInvalidUTF8 = errors.New("invalid UTF-8 sequence")

// Codec converts between UTF-8 and a named text encoding.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// LookupCodec returns the Codec for an encoding label such as "utf-8",
// "latin1", "windows-1252" or "utf-16le". Labels follow the WHATWG encoding
// standard. An empty name selects UTF-8.
func LookupCodec(name string) (*Codec, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = name
	}
	return &Codec{name: canonical, enc: enc}, nil
}

// Name returns the canonical encoding name.
func (c *Codec) Name() string {
	return c.name
}

func (c *Codec) isUTF8() bool {
	return c.name == "utf-8"
}

// NewReader returns a reader producing UTF-8 from r.
func (c *Codec) NewReader(r io.Reader) io.Reader {
	if c.isUTF8() {
		return r
	}
	return transform.NewReader(r, c.enc.NewDecoder())
}

// NewWriter returns a writer encoding UTF-8 input into w. The writer must
// be closed to flush any buffered state; closing it does not close w.
func (c *Codec) NewWriter(w io.Writer) io.WriteCloser {
	if c.isUTF8() {
		return nopWriteCloser{w}
	}
	return transform.NewWriter(w, c.enc.NewEncoder())
}

// Encode converts s to the codec's encoding.
func (c *Codec) Encode(s string) ([]byte, error) {
	if c.isUTF8() {
		return []byte(s), nil
	}
	b, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s text: %w", c.name, err)
	}
	return b, nil
}

// Decode converts b from the codec's encoding to a UTF-8 string.
func (c *Codec) Decode(b []byte) (string, error) {
	if c.isUTF8() {
		if !utf8.Valid(b) {
			return "", c.invalidUTF8()
		}
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", &DecodeError{Encoding: c.name, Err: err}
	}
	return string(out), nil
}

func (c *Codec) invalidUTF8() error {
	return &DecodeError{Encoding: c.name, Err: errInvalidUTF8}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
