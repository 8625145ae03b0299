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
	"context"
	"fmt"
	"io"

	"github.com/elastic/go-docmover/esapi"
)

// DryRunSender renders batches as the bulk requests that would have been
// sent: the request line, every line of the batch, and a blank line.
type DryRunSender struct {
	w       *bufio.Writer
	request esapi.BulkRequest
}

// NewDryRunSender returns a DryRunSender writing to w.
func NewDryRunSender(w io.Writer, index, pipeline string) *DryRunSender {
	return &DryRunSender{
		w:       bufio.NewWriter(w),
		request: esapi.BulkRequest{Index: index, Pipeline: pipeline},
	}
}

// Send writes the preview of batch and flushes it.
func (s *DryRunSender) Send(_ context.Context, batch Batch) (BulkStat, error) {
	s.w.WriteString(s.request.String())
	s.w.WriteByte('\n')
	for _, line := range batch {
		s.w.Write(line)
		s.w.WriteByte('\n')
	}
	s.w.WriteByte('\n')
	if err := s.w.Flush(); err != nil {
		return BulkStat{}, fmt.Errorf("failed to write dry run output: %w", err)
	}
	return BulkStat{}, nil
}
