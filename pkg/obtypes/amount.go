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
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"golang.org/x/text/currency"
)

// Amount is a quantity of a currency, held in the smallest unit the ledger tracks.
// Arithmetic helpers do not check currencies match - call CheckSameCurrency first.
type Amount struct {
	Quantity int64  `json:"quantity"`
	Currency string `json:"currency"`
}

func NewAmount(quantity int64, ccy string) Amount {
	return Amount{Quantity: quantity, Currency: ccy}
}

func ZeroAmount(ccy string) Amount {
	return Amount{Currency: ccy}
}

// ParseCurrency validates an ISO 4217 code, returning it in canonical upper case
func ParseCurrency(ctx context.Context, s string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(s))
	if err != nil {
		return "", i18n.NewError(ctx, msgs.MsgTypesInvalidCurrency, s)
	}
	return unit.String(), nil
}

// ParseAmount accepts "1000 GBP"
func ParseAmount(ctx context.Context, s string) (Amount, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Amount{}, i18n.NewError(ctx, msgs.MsgTypesInvalidAmount, s)
	}
	q, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Amount{}, i18n.NewError(ctx, msgs.MsgTypesInvalidAmount, s)
	}
	ccy, err := ParseCurrency(ctx, parts[1])
	if err != nil {
		return Amount{}, err
	}
	return Amount{Quantity: q, Currency: ccy}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(context.Background(), s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Validate(ctx context.Context) error {
	_, err := ParseCurrency(ctx, a.Currency)
	return err
}

func (a Amount) CheckSameCurrency(ctx context.Context, b Amount) error {
	if a.Currency != b.Currency {
		return i18n.NewError(ctx, msgs.MsgTypesCurrencyMismatch, a.Currency, b.Currency)
	}
	return nil
}

// Plus saturates at the int64 range rather than wrapping. Use Add where an overflow must be refused.
func (a Amount) Plus(b Amount) Amount {
	sum, ok := addQuantities(a.Quantity, b.Quantity)
	if !ok {
		sum = math.MaxInt64
		if b.Quantity < 0 {
			sum = math.MinInt64
		}
	}
	return Amount{Quantity: sum, Currency: a.Currency}
}

// Add fails rather than overflowing, so totals built from untrusted states cannot wrap
func (a Amount) Add(ctx context.Context, b Amount) (Amount, error) {
	sum, ok := addQuantities(a.Quantity, b.Quantity)
	if !ok {
		return Amount{}, i18n.NewError(ctx, msgs.MsgTypesAmountOverflow, b, a)
	}
	return Amount{Quantity: sum, Currency: a.Currency}, nil
}

func addQuantities(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func (a Amount) Minus(b Amount) Amount {
	return Amount{Quantity: a.Quantity - b.Quantity, Currency: a.Currency}
}

// Cmp returns -1, 0 or +1 comparing the quantities
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.Quantity < b.Quantity:
		return -1
	case a.Quantity > b.Quantity:
		return 1
	default:
		return 0
	}
}

func (a Amount) IsPositive() bool {
	return a.Quantity > 0
}

func (a Amount) IsZero() bool {
	return a.Quantity == 0
}

func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Quantity, a.Currency)
}
