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
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// stderrTailSize bounds how much of a failed command's stderr is kept for
// the returned error.
const stderrTailSize = 512

// PostProcessor renders exported documents, optionally piping each one
// through a shell command.
//
// Exactly one document is in flight at a time: Process starts the command,
// feeds it the document, and waits for it to exit before returning.
type PostProcessor struct {
	command string
	codec   *Codec
	stderr  io.Writer
}

// NewPostProcessor returns a PostProcessor running command through sh -c.
// If command is empty, documents are rendered as compact JSON.
func NewPostProcessor(command string, codec *Codec) *PostProcessor {
	return &PostProcessor{command: command, codec: codec, stderr: os.Stderr}
}

// Process returns the text to write for doc. An empty result means the
// document must be dropped.
func (p *PostProcessor) Process(ctx context.Context, doc []byte) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	if p.command == "" {
		return compact.String(), nil
	}

	input, err := p.codec.Encode(compact.String())
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", &CommandError{Command: p.command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &CommandError{Command: p.command, Err: err}
	}
	tail := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = io.MultiWriter(p.stderr, tail)
	if err := cmd.Start(); err != nil {
		return "", &CommandError{Command: p.command, Err: err}
	}

	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		// The command may exit without reading its input.
		if _, err := stdin.Write(input); err != nil && !errors.Is(err, syscall.EPIPE) {
			return err
		}
		return nil
	})
	output, readErr := io.ReadAll(stdout)
	writeErr := g.Wait()
	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(tail.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &CommandError{Command: p.command, Err: err}
	}
	if readErr != nil {
		return "", &CommandError{Command: p.command, Err: readErr}
	}
	if writeErr != nil {
		return "", &CommandError{Command: p.command, Err: writeErr}
	}

	text, err := p.codec.Decode(output)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
