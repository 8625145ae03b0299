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
	"strconv"
)

var (
	// ErrInvalidConfig is wrapped by every configuration error returned
	// from Config.ValidateImport, Config.ValidateExport and
	// ConnectionConfig.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedFormat is matched by *UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrKeyLookup is matched by *KeyLookupError.
	ErrKeyLookup = errors.New("key lookup failed")

	errMalformedJSON = errors.New("malformed JSON")
	errNotObject     = errors.New("record is not a JSON object")
	errMissingSource = errors.New("hit has no _source")
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// UnsupportedFormatError is returned when an input path has an extension
// that no decoder handles.
type UnsupportedFormatError struct {
	Path      string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf(
		"unsupported file type %q for %s: only .csv, .json, .jsonl, .ndjson, .gz, .bz2, .zip, .xz and .zst files are supported",
		e.Extension, e.Path,
	)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// RecordError reports a failure tied to one input record. Num is the
// 1-based line (or CSV row) number in the source.
type RecordError struct {
	Num int
	Err error
}

func (e *RecordError) Error() string {
	return "record " + strconv.Itoa(e.Num) + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// KeyLookupError is returned when an id field path cannot be resolved
// against a document.
type KeyLookupError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *KeyLookupError) Error() string {
	return fmt.Sprintf("failed to resolve key path %q at %q: %s", e.Path, e.Segment, e.Reason)
}

func (e *KeyLookupError) Is(target error) bool {
	return target == ErrKeyLookup
}

// CommandError is returned when a post-processing command cannot be started
// or exits unsuccessfully.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("post-process command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when bytes cannot be decoded with the configured
// text encoding.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s text: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
