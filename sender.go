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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unsafe"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

// Sender ships one batch.
type Sender interface {
	Send(ctx context.Context, batch Batch) (BulkStat, error)
}

// BulkSenderConfig holds configuration for BulkSender.
type BulkSenderConfig struct {
	// Client holds the Elasticsearch client.
	Client elastictransport.Interface

	// Index holds the default index of the bulk request. Actions that name
	// their own _index override it.
	Index string

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int
}

// BulkSender sends every batch as a single _bulk request.
//
// Transport failures and non-2xx responses are returned as errors. Items
// rejected individually by Elasticsearch are reported in BulkStat; they are
// not retried.
type BulkSender struct {
	config       BulkSenderConfig
	bytesFlushed int
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
}

// BulkStat summarizes the response to one bulk request.
type BulkStat struct {
	Indexed    int64
	FailedDocs []BulkItem
}

// BulkItem represents the Elasticsearch response item.
type BulkItem struct {
	Index  string `json:"_index"`
	Status int    `json:"status"`

	Position int

	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("docmover.BulkStat", func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		stat := (*BulkStat)(ptr)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
			if s != "items" {
				i.Skip()
				return true
			}
			var idx int
			i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
				return i.ReadMapCB(func(i *jsoniter.Iterator, s string) bool {
					var item BulkItem
					i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
						switch s {
						case "_index":
							item.Index = i.ReadString()
						case "status":
							item.Status = i.ReadInt()
						case "error":
							i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
								switch s {
								case "type":
									item.Error.Type = i.ReadString()
								case "reason":
									// Drop the field value preview, it may hold
									// document content.
									item.Error.Reason, _, _ = strings.Cut(
										i.ReadString(), ". Preview",
									)
								default:
									i.Skip()
								}
								return true
							})
						default:
							i.Skip()
						}
						return true
					})
					item.Position = idx
					idx++
					if item.Error.Type != "" || item.Status > 201 {
						stat.FailedDocs = append(stat.FailedDocs, item)
					} else {
						stat.Indexed++
					}
					return true
				})
			})
			// no need to proceed further, return early
			return false
		})
	})
}

// NewBulkSender returns a sender that issues bulk requests to Elasticsearch.
func NewBulkSender(cfg BulkSenderConfig) (*BulkSender, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}

	s := &BulkSender{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		s.gzipw, _ = gzip.NewWriterLevel(&s.buf, cfg.CompressionLevel)
		s.writer = s.gzipw
	} else {
		s.writer = &s.buf
	}
	return s, nil
}

// BytesFlushed returns the size of the last request body sent, after
// compression.
func (s *BulkSender) BytesFlushed() int {
	return s.bytesFlushed
}

func (s *BulkSender) resetBuf() {
	s.buf.Reset()
	if s.gzipw != nil {
		s.gzipw.Reset(&s.buf)
	}
}

// Send encodes batch as an NDJSON body and executes the bulk request.
func (s *BulkSender) Send(ctx context.Context, batch Batch) (BulkStat, error) {
	s.bytesFlushed = 0
	if len(batch) == 0 {
		return BulkStat{}, nil
	}

	s.resetBuf()
	for _, line := range batch {
		if _, err := s.writer.Write(line); err != nil {
			return BulkStat{}, fmt.Errorf("failed to write bulk line: %w", err)
		}
		if _, err := s.writer.Write([]byte("\n")); err != nil {
			return BulkStat{}, fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if s.gzipw != nil {
		if err := s.gzipw.Close(); err != nil {
			return BulkStat{}, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Index:      s.config.Index,
		Body:       &s.buf,
		Header:     make(http.Header),
		FilterPath: []string{"items.*._index", "items.*.status", "items.*.error.type", "items.*.error.reason"},
		Pipeline:   s.config.Pipeline,
	}
	if s.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := s.buf.Len()
	res, err := req.Do(ctx, s.config.Client)
	if err != nil {
		return BulkStat{}, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	s.bytesFlushed = bytesFlushed
	var stat BulkStat
	if res.IsError() {
		return stat, fmt.Errorf("flush failed: %s", res.String())
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&stat); err != nil {
		return stat, fmt.Errorf("error decoding bulk response: %w", err)
	}
	return stat, nil
}
