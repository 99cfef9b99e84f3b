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
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

// HexBytes is byte slice that is formatted in JSON with an 0x prefix, and stored in the DB as hex
type HexBytes []byte

func ParseHexBytes(ctx context.Context, s string) (HexBytes, error) {
	h, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgTypesInvalidHex, err)
	}
	return h, nil
}

func MustParseHexBytes(s string) HexBytes {
	h, err := ParseHexBytes(context.Background(), s)
	if err != nil {
		panic(err)
	}
	return h
}

func (hb HexBytes) String() string {
	if hb == nil {
		return ""
	}
	return hb.HexString0xPrefix()
}

func (hb HexBytes) Equals(hb2 HexBytes) bool {
	return bytes.Equal(hb, hb2)
}

func (hb HexBytes) MarshalText() ([]byte, error) {
	return ([]byte)(hb.HexString0xPrefix()), nil
}

// Parses with/without 0x in any case
func (hb *HexBytes) UnmarshalText(text []byte) error {
	parsed, err := ParseHexBytes(context.Background(), string(text))
	if err != nil {
		return err
	}
	*hb = parsed
	return nil
}

func (hb HexBytes) HexString0xPrefix() string {
	return fmt.Sprintf("0x%s", hex.EncodeToString(hb))
}

func (hb HexBytes) HexString() string {
	return hex.EncodeToString(hb)
}

func (hb HexBytes) Value() (driver.Value, error) {
	if hb == nil {
		return nil, nil
	}
	return hb.HexString(), nil // no 0x prefix
}

func (hb *HexBytes) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*hb = nil
		return nil
	case string:
		b, err := ParseHexBytes(context.Background(), v)
		if err != nil {
			return err
		}
		*hb = b
		return nil
	case []byte:
		*hb = HexBytes(v)
		return nil
	default:
		return i18n.NewError(context.Background(), msgs.MsgTypesDBValueType, src, hb)
	}
}
