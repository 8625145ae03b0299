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

import "fmt"

// Batch is an ordered sequence of bulk lines sent as one request. A Batch
// returned by Batcher is never modified afterwards.
type Batch [][]byte

// Size returns the number of bytes the batch occupies in a bulk request
// body, including the newline after every line.
func (b Batch) Size() int {
	n := 0
	for _, line := range b {
		n += len(line) + 1
	}
	return n
}

// Batcher groups bulk lines into batches of at most Limit lines.
//
// Lines are added in groups: an action and its document, or a single line.
// A group is never split across batches, so a batch is flushed early when
// the next group would not fit. A single group larger than the limit is
// placed in a batch of its own.
type Batcher struct {
	limit int
	acc   Batch
}

// NewBatcher returns a Batcher for batches of at most limit lines.
func NewBatcher(limit int) (*Batcher, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("batch limit must be positive, got %d", limit)
	}
	return &Batcher{limit: limit}, nil
}

// Add appends group to the current batch. If the group does not fit, the
// current batch is returned as completed first, and the group starts the
// next one.
func (b *Batcher) Add(group [][]byte) (Batch, bool) {
	var completed Batch
	if len(b.acc) > 0 && len(b.acc)+len(group) > b.limit {
		completed = b.acc
		b.acc = nil
	}
	if b.acc == nil {
		b.acc = make(Batch, 0, min(b.limit, 1024))
	}
	b.acc = append(b.acc, group...)
	return completed, completed != nil
}

// Flush returns the pending partial batch, if any.
func (b *Batcher) Flush() (Batch, bool) {
	if len(b.acc) == 0 {
		return nil, false
	}
	completed := b.acc
	b.acc = nil
	return completed, true
}

// Len returns the number of lines pending in the current batch.
func (b *Batcher) Len() int {
	return len(b.acc)
}
