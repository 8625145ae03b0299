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
	"encoding/json"
	"slices"

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

// deprecatedTypeField is the mapping type discriminator, deprecated in
// Elasticsearch 7 and rejected by 8. It is removed from every action.
const deprecatedTypeField = "_type"

var bulkOperations = map[string]bool{
	"index":  true,
	"create": true,
	"update": true,
	"delete": true,
}

// ActionConfig holds configuration for ActionGenerator.
type ActionConfig struct {
	// PassThrough emits input lines as they are instead of generating an
	// index action for every record.
	PassThrough bool

	// IDField holds a dot-separated path to the document _id. It requires
	// generated actions.
	IDField string
}

// ActionGenerator turns records into bulk request lines.
//
// When generating actions, every record yields two lines: an index action,
// optionally carrying the _id resolved from IDField, and the document. In
// pass-through mode every record yields one line; lines that are bulk
// actions are normalized, anything else is emitted unchanged.
type ActionGenerator struct {
	passThrough bool
	idPath      []string
	jsonw       fastjson.Writer
	compact     bytes.Buffer
}

// NewActionGenerator returns an ActionGenerator for cfg.
func NewActionGenerator(cfg ActionConfig) (*ActionGenerator, error) {
	if cfg.PassThrough && cfg.IDField != "" {
		return nil, configError("ID field can only be applied to generated actions")
	}
	return &ActionGenerator{
		passThrough: cfg.PassThrough,
		idPath:      splitKeyPath(cfg.IDField),
	}, nil
}

// Lines returns the bulk lines for rec: one line in pass-through mode, an
// action and document pair otherwise. The returned slices are not reused.
func (g *ActionGenerator) Lines(rec Record) ([][]byte, error) {
	line, err := g.compactLine(rec.Line)
	if err != nil {
		return nil, &RecordError{Num: rec.Num, Err: err}
	}
	if g.passThrough {
		if action, ok := g.normalizeAction(line); ok {
			return [][]byte{action}, nil
		}
		return [][]byte{line}, nil
	}

	doc := jsoniter.Get(line)
	if doc.ValueType() != jsoniter.ObjectValue {
		return nil, &RecordError{Num: rec.Num, Err: errNotObject}
	}
	var documentID string
	if len(g.idPath) > 0 {
		if documentID, err = resolveKeyPath(doc, g.idPath); err != nil {
			return nil, &RecordError{Num: rec.Num, Err: err}
		}
	}
	return [][]byte{g.writeIndexAction(documentID, len(g.idPath) > 0), line}, nil
}

func (g *ActionGenerator) writeIndexAction(documentID string, withID bool) []byte {
	g.jsonw.Reset()
	g.jsonw.RawString(`{"index":{`)
	if withID {
		g.jsonw.RawString(`"_id":`)
		g.jsonw.String(documentID)
	}
	g.jsonw.RawString("}}")
	return slices.Clone(g.jsonw.Bytes())
}

// normalizeAction reports whether line is a bulk action, that is an object
// with a single bulk operation key holding an object, and if so returns it
// with the deprecated type field removed. Other fields keep their order.
func (g *ActionGenerator) normalizeAction(line []byte) ([]byte, bool) {
	iter := jsoniter.ConfigDefault.BorrowIterator(line)
	defer jsoniter.ConfigDefault.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, false
	}
	op := iter.ReadObject()
	if !bulkOperations[op] || iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, false
	}

	g.jsonw.Reset()
	g.jsonw.RawByte('{')
	g.jsonw.String(op)
	g.jsonw.RawString(":{")
	first := true
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		value := iter.SkipAndReturnBytes()
		if field == deprecatedTypeField {
			return true
		}
		if !first {
			g.jsonw.RawByte(',')
		}
		first = false
		g.jsonw.String(field)
		g.jsonw.RawByte(':')
		g.jsonw.RawBytes(value)
		return true
	})
	g.jsonw.RawString("}}")

	// A second top-level key means this is a document that merely looks
	// like an action.
	if next := iter.ReadObject(); next != "" || iter.Error != nil {
		return nil, false
	}
	return slices.Clone(g.jsonw.Bytes()), true
}

func (g *ActionGenerator) compactLine(line []byte) ([]byte, error) {
	g.compact.Reset()
	if err := json.Compact(&g.compact, line); err != nil {
		return nil, err
	}
	return slices.Clone(g.compact.Bytes()), nil
}
