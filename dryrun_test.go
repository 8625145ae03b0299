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

package docmover_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docmover"
)

func TestDryRunSender(t *testing.T) {
	var buf bytes.Buffer
	sender := docmover.NewDryRunSender(&buf, "foo", "bar")

	stat, err := sender.Send(context.Background(), docmover.Batch{
		[]byte(`{"index":{}}`),
		[]byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Zero(t, stat.Indexed)
	_, err = sender.Send(context.Background(), docmover.Batch{[]byte(`{"delete":{"_id":"1"}}`)})
	require.NoError(t, err)

	assert.Equal(t, ""+
		"PUT /foo/_bulk?pipeline=bar\n"+
		"{\"index\":{}}\n"+
		"{\"a\":1}\n"+
		"\n"+
		"PUT /foo/_bulk?pipeline=bar\n"+
		"{\"delete\":{\"_id\":\"1\"}}\n"+
		"\n",
		buf.String(),
	)
}

func TestDryRunSenderNoPipeline(t *testing.T) {
	var buf bytes.Buffer
	sender := docmover.NewDryRunSender(&buf, "foo", "")
	_, err := sender.Send(context.Background(), docmover.Batch{[]byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "PUT /foo/_bulk\n{}\n\n", buf.String())
}
