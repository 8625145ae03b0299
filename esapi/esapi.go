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

// Package esapi contains the few pieces of the Elasticsearch REST protocol
// that go-docmover renders itself instead of sending through
// go-elasticsearch: the bulk request line shown by dry runs, and the
// duration format used in scroll request bodies.
package esapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BulkRequest describes the request line of a _bulk call.
type BulkRequest struct {
	Index    string
	Pipeline string
}

// Path returns the request path and query string, e.g.
// "/logs/_bulk?pipeline=geoip".
func (r BulkRequest) Path() string {
	var b strings.Builder
	b.WriteByte('/')
	if r.Index != "" {
		b.WriteString(url.PathEscape(r.Index))
		b.WriteByte('/')
	}
	b.WriteString("_bulk")
	if r.Pipeline != "" {
		b.WriteString("?pipeline=")
		b.WriteString(url.QueryEscape(r.Pipeline))
	}
	return b.String()
}

// String returns the HTTP request line, e.g. "PUT /logs/_bulk".
func (r BulkRequest) String() string {
	return http.MethodPut + " " + r.Path()
}

// FormatDuration converts duration to a string in the format
// accepted by Elasticsearch.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return strconv.FormatInt(int64(d), 10) + "nanos"
	}
	return strconv.FormatInt(int64(d)/int64(time.Millisecond), 10) + "ms"
}
