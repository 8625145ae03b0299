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

// Package docmover moves documents between Elasticsearch and flat files.
//
// Importing decodes a file (line-delimited JSON or CSV, optionally gzip, bzip2,
// zip, xz or zstd compressed) into a stream of records, turns each record into
// bulk action and document lines, and sends them in batches bounded by a line
// count. Exporting runs a scrolled search, optionally pipes every hit through
// an external command, and writes one line per document.
//
// Both directions are strictly sequential: documents leave the pipeline in the
// order they entered it, and at most one bulk or scroll request is in flight.
package docmover
