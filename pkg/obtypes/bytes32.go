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
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"golang.org/x/crypto/sha3"
)

// Bytes32 is a 32 byte value, used for transaction ids and salts.
// It is formatted as 0x prefixed lower case hex.
type Bytes32 [32]byte

func ParseBytes32(ctx context.Context, s string) (Bytes32, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Bytes32{}, i18n.NewError(ctx, msgs.MsgTypesInvalidHex, err)
	}
	if len(b) != 32 {
		return Bytes32{}, i18n.NewError(ctx, msgs.MsgTypesInvalidBytes32, len(b))
	}
	return Bytes32(b), nil
}

func MustParseBytes32(s string) Bytes32 {
	b, err := ParseBytes32(context.Background(), s)
	if err != nil {
		panic(err)
	}
	return b
}

func RandBytes32() (b Bytes32) {
	_, _ = rand.Read(b[:])
	return b
}

// Bytes32Keccak is the legacy (pre-NIST) Keccak-256 hash of the data
func Bytes32Keccak(data []byte) (b Bytes32) {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	copy(b[:], h.Sum(nil))
	return b
}

func (b Bytes32) IsZero() bool {
	return b == Bytes32{}
}

func (b Bytes32) Bytes() []byte {
	return b[:]
}

func (b Bytes32) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

func (b Bytes32) HexString() string {
	return hex.EncodeToString(b[:])
}

func (b Bytes32) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Bytes32) UnmarshalText(text []byte) error {
	parsed, err := ParseBytes32(context.Background(), string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Bytes32) Value() (driver.Value, error) {
	return b.HexString(), nil
}

func (b *Bytes32) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseBytes32(context.Background(), v)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	case []byte:
		if len(v) == 32 {
			copy(b[:], v)
			return nil
		}
		return b.Scan(string(v))
	default:
		return i18n.NewError(context.Background(), msgs.MsgTypesDBValueType, src, b)
	}
}
