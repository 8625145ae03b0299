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
	"fmt"
	"io"
	"os"
)

// Sink writes exported documents, one per line, in the configured text
// encoding.
type Sink struct {
	file   *os.File
	enc    io.WriteCloser
	w      *bufio.Writer
	closed bool
}

// OpenSink opens path for writing, truncating it. If path is empty or
// StdinPath, documents are written to os.Stdout, which is flushed but never
// closed.
func OpenSink(path string, codec *Codec) (*Sink, error) {
	return openSink(path, codec, os.Stdout)
}

func openSink(path string, codec *Codec, stdout io.Writer) (*Sink, error) {
	s := &Sink{}
	dst := stdout
	if path != "" && path != StdinPath {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open output: %w", err)
		}
		s.file = f
		dst = f
	}
	s.enc = codec.NewWriter(dst)
	s.w = bufio.NewWriter(s.enc)
	return s, nil
}

// WriteLine writes line followed by a newline.
func (s *Sink) WriteLine(line string) error {
	if s.closed {
		return os.ErrClosed
	}
	if _, err := s.w.WriteString(line); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// Close flushes buffered output and releases the destination. Calling Close
// more than once is a no-op.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}
