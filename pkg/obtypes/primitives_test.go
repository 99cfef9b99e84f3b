// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package obtypes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexBytes(t *testing.T) {
	ctx := context.Background()
	hb, err := ParseHexBytes(ctx, "0xFEED")
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hb.String())
	assert.Equal(t, "feed", hb.HexString())
	assert.True(t, hb.Equals(MustParseHexBytes("feed")))
	assert.Equal(t, "", HexBytes(nil).String())

	_, err = ParseHexBytes(ctx, "wrong")
	assert.Regexp(t, "OB010200", err)
	assert.Panics(t, func() { MustParseHexBytes("wrong") })

	var hb2 HexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0x0102"`), &hb2))
	assert.Equal(t, HexBytes{1, 2}, hb2)
	assert.Error(t, json.Unmarshal([]byte(`"zz"`), &hb2))

	v, err := hb.Value()
	require.NoError(t, err)
	assert.Equal(t, "feed", v)
	v, err = HexBytes(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, hb2.Scan("abcd"))
	assert.Equal(t, HexBytes{0xab, 0xcd}, hb2)
	require.NoError(t, hb2.Scan([]byte{0x01}))
	assert.Equal(t, HexBytes{0x01}, hb2)
	require.NoError(t, hb2.Scan(nil))
	assert.Nil(t, hb2)
	assert.Regexp(t, "OB010200", hb2.Scan("zz"))
	assert.Regexp(t, "OB010210", hb2.Scan(42))
}

func TestBytes32(t *testing.T) {
	ctx := context.Background()
	b := RandBytes32()
	assert.False(t, b.IsZero())
	assert.True(t, Bytes32{}.IsZero())

	parsed, err := ParseBytes32(ctx, b.String())
	require.NoError(t, err)
	assert.Equal(t, b, parsed)
	parsed, err = ParseBytes32(ctx, b.HexString())
	require.NoError(t, err)
	assert.Equal(t, b, parsed)

	_, err = ParseBytes32(ctx, "0x1234")
	assert.Regexp(t, "OB010201", err)
	_, err = ParseBytes32(ctx, "wrong")
	assert.Regexp(t, "OB010200", err)
	assert.Panics(t, func() { MustParseBytes32("wrong") })

	// Keccak-256 of the empty string
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Bytes32Keccak(nil).String())

	var b2 Bytes32
	require.NoError(t, json.Unmarshal([]byte(`"`+b.String()+`"`), &b2))
	assert.Equal(t, b, b2)

	v, err := b.Value()
	require.NoError(t, err)
	var b3 Bytes32
	require.NoError(t, b3.Scan(v))
	assert.Equal(t, b, b3)
	require.NoError(t, b3.Scan(b.Bytes()))
	assert.Equal(t, b, b3)
	assert.Regexp(t, "OB010210", b3.Scan(42))
}

func TestTimestamp(t *testing.T) {
	ts := TimestampFromTime(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC))
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-02T03:04:05.000000006Z"`, string(b))

	var ts2 Timestamp
	require.NoError(t, json.Unmarshal(b, &ts2))
	assert.Equal(t, ts, ts2)
	require.NoError(t, json.Unmarshal([]byte(`12345`), &ts2))
	assert.Equal(t, Timestamp(12345), ts2)
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts2))
	assert.Equal(t, Timestamp(0), ts2)
	assert.Error(t, json.Unmarshal([]byte(`"not a time"`), &ts2))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &ts2))

	b, err = json.Marshal(Timestamp(0))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	require.NoError(t, ts2.Scan(int64(99)))
	assert.Equal(t, int64(99), ts2.UnixNano())
	require.NoError(t, ts2.Scan(nil))
	assert.Regexp(t, "OB010210", ts2.Scan("x"))
}

func TestRawJSON(t *testing.T) {
	r := JSONString(map[string]int{"a": 1})
	assert.Equal(t, `{"a":1}`, r.String())
	assert.False(t, r.IsNil())
	assert.True(t, RawJSON(nil).IsNil())

	var m map[string]int
	require.NoError(t, r.Unmarshal(&m))
	assert.Equal(t, 1, m["a"])

	type wrapper struct {
		Data RawJSON `json:"data"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"b":[1,2]}}`), &w))
	assert.JSONEq(t, `{"b":[1,2]}`, w.Data.String())

	var r2 RawJSON
	require.NoError(t, r2.Scan(`{"c":true}`))
	assert.Equal(t, `{"c":true}`, r2.String())
	require.NoError(t, r2.Scan(nil))
	assert.Nil(t, r2)
	assert.Regexp(t, "OB010210", r2.Scan(1))
	assert.Len(t, ShortID(), 8)
}
