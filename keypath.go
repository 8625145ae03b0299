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
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ResolveKeyPath walks a dot-separated key path through the JSON object doc
// and returns the scalar found at its end, rendered as a string. Only objects
// are traversed; a missing key, a non-object intermediate value, or a
// non-scalar leaf yields a *KeyLookupError.
func ResolveKeyPath(doc []byte, path string) (string, error) {
	return resolveKeyPath(jsoniter.Get(doc), splitKeyPath(path))
}

func splitKeyPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func resolveKeyPath(v jsoniter.Any, segments []string) (string, error) {
	path := strings.Join(segments, ".")
	for _, segment := range segments {
		if v.ValueType() != jsoniter.ObjectValue {
			return "", &KeyLookupError{Path: path, Segment: segment, Reason: "parent is not an object"}
		}
		v = v.Get(segment)
		if v.ValueType() == jsoniter.InvalidValue {
			return "", &KeyLookupError{Path: path, Segment: segment, Reason: "key not found"}
		}
	}
	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue, jsoniter.BoolValue:
		return v.ToString(), nil
	}
	last := ""
	if len(segments) > 0 {
		last = segments[len(segments)-1]
	}
	return "", &KeyLookupError{Path: path, Segment: last, Reason: "value is not a string, number or boolean"}
}
