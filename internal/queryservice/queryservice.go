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

// Package queryservice serves paged reads of the obligation history held in the vault
package queryservice

import (
	"context"
	"math"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

type queryService struct {
	ss          components.StateStore
	maxPageSize int
}

func NewQueryService(conf *obconf.NegotiationConfig, ss components.StateStore) components.LedgerQueryService {
	return &queryService{
		ss:          ss,
		maxPageSize: confutil.IntMin(conf.MaxPageSize, 1, *obconf.NegotiationDefaults.MaxPageSize),
	}
}

func (qs *queryService) MaxPageSize() int {
	return qs.maxPageSize
}

// QueryObligations returns every version, consumed or not, of the obligations matching
// the refs (or all obligations if there are none)
func (qs *queryService) QueryObligations(ctx context.Context, req *obtypes.QueryObligationsRequest) (*obtypes.ObligationPage, error) {
	if req.PageNumber < 1 {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgQueryPageNumber, req.PageNumber)
	}
	if req.PageSize < 1 || req.PageSize > qs.maxPageSize {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgQueryPageSize, qs.maxPageSize, req.PageSize)
	}
	if req.PageNumber-1 > math.MaxInt/req.PageSize {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgQueryPageRange, req.PageNumber, req.PageSize)
	}
	records, total, err := qs.ss.QueryObligations(ctx, &components.StateQuery{
		Refs:   req.Refs,
		Status: obtypes.StateStatusAll,
		Offset: (req.PageNumber - 1) * req.PageSize,
		Limit:  req.PageSize,
	})
	if err != nil {
		return nil, err
	}
	log.L(ctx).Debugf("Query page %d returned %d of %d obligations", req.PageNumber, len(records), total)
	if records == nil {
		records = []*obtypes.ObligationSnapshot{}
	}
	return &obtypes.ObligationPage{
		Records:        records,
		TotalAvailable: total,
	}, nil
}

// GetObligation returns the current version of an obligation
func (qs *queryService) GetObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error) {
	snapshot, err := qs.ss.GetUnconsumedObligation(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgStateUnconsumedNotFound, linearID)
	}
	return snapshot, nil
}
