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

// Package statestore is the node's vault: an append-only record of the committed
// transactions it took part in, the states they created, and which have been spent.
package statestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionRow struct {
	ID        obtypes.Bytes32   `gorm:"column:id;primaryKey"`
	NotaryKey string            `gorm:"column:notary_key"`
	Data      obtypes.RawJSON   `gorm:"column:data"`
	Created   obtypes.Timestamp `gorm:"column:created"`
}

func (transactionRow) TableName() string {
	return "transactions"
}

type stateRow struct {
	TxID        obtypes.Bytes32   `gorm:"column:tx_id;primaryKey"`
	Index       int               `gorm:"column:idx;primaryKey"`
	StateType   obtypes.StateType `gorm:"column:state_type"`
	LinearID    *string           `gorm:"column:linear_id"`
	Currency    string            `gorm:"column:currency"`
	Quantity    int64             `gorm:"column:quantity"`
	Paid        *int64            `gorm:"column:paid"`
	OwnerKey    *string           `gorm:"column:owner_key"`
	LenderKey   *string           `gorm:"column:lender_key"`
	BorrowerKey *string           `gorm:"column:borrower_key"`
	Remark      *string           `gorm:"column:remark"`
	Data        obtypes.RawJSON   `gorm:"column:data"`
	Created     obtypes.Timestamp `gorm:"column:created"`
	SpentBy     *obtypes.Bytes32  `gorm:"->;column:spent_by"`
}

func (stateRow) TableName() string {
	return "states"
}

type stateSpendRow struct {
	StateTxID obtypes.Bytes32   `gorm:"column:state_tx_id;primaryKey"`
	StateIdx  int               `gorm:"column:state_idx;primaryKey"`
	SpentBy   obtypes.Bytes32   `gorm:"column:spent_by"`
	Created   obtypes.Timestamp `gorm:"column:created"`
}

func (stateSpendRow) TableName() string {
	return "state_spends"
}

type stateStore struct {
	p persistence.Persistence
}

func NewStateStore(p persistence.Persistence) components.StateStore {
	return &stateStore{p: p}
}

func optKey(p *obtypes.Party) *string {
	if p == nil || p.Key == "" {
		return nil
	}
	return &p.Key
}

func newStateRow(txID obtypes.Bytes32, idx int, out *obtypes.TxOutput, created obtypes.Timestamp) *stateRow {
	row := &stateRow{
		TxID:      txID,
		Index:     idx,
		StateType: out.Type,
		Data:      obtypes.JSONString(out),
		Created:   created,
	}
	switch {
	case out.Obligation != nil:
		o := out.Obligation
		row.LinearID = &o.LinearID
		row.Currency = o.Amount.Currency
		row.Quantity = o.Amount.Quantity
		row.Paid = &o.Paid.Quantity
		row.LenderKey = optKey(o.Lender)
		row.BorrowerKey = optKey(o.Borrower)
		row.Remark = o.Remark
	case out.Cash != nil:
		row.Currency = out.Cash.Amount.Currency
		row.Quantity = out.Cash.Amount.Quantity
		row.OwnerKey = optKey(out.Cash.Owner)
	}
	return row
}

func (ss *stateStore) WriteTransaction(ctx context.Context, dbTX persistence.DBTX, stx *obtypes.SignedTransaction) error {
	now := obtypes.TimestampNow()
	db := dbTX.DB().WithContext(ctx)
	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&transactionRow{
			ID:        stx.ID,
			NotaryKey: stx.Proposal.Notary,
			Data:      obtypes.JSONString(stx),
			Created:   now,
		}).Error
	if err == nil && len(stx.Proposal.Outputs) > 0 {
		states := make([]*stateRow, len(stx.Proposal.Outputs))
		for i, out := range stx.Proposal.Outputs {
			states[i] = newStateRow(stx.ID, i, out, now)
		}
		err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(states).Error
	}
	if err == nil && len(stx.Proposal.Inputs) > 0 {
		spends := make([]*stateSpendRow, len(stx.Proposal.Inputs))
		for i, in := range stx.Proposal.Inputs {
			spends[i] = &stateSpendRow{StateTxID: in.Ref.TxID, StateIdx: in.Ref.Index, SpentBy: stx.ID, Created: now}
		}
		err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(spends).Error
	}
	if err != nil {
		return components.Classify(components.ErrInternal, err)
	}
	log.L(ctx).Debugf("Recorded transaction %s (inputs=%d outputs=%d)", stx.ID, len(stx.Proposal.Inputs), len(stx.Proposal.Outputs))
	return nil
}

func (ss *stateStore) GetTransaction(ctx context.Context, txID obtypes.Bytes32) (*obtypes.SignedTransaction, error) {
	var rows []*transactionRow
	err := ss.p.DB().WithContext(ctx).Where("id = ?", txID).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var stx obtypes.SignedTransaction
	if err := rows[0].Data.Unmarshal(&stx); err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	return &stx, nil
}

// stateQuery joins each state to its spend record, so status is derived and never stored on the state
func (ss *stateStore) stateQuery(ctx context.Context, stateType obtypes.StateType, status obtypes.StateStatus) *gorm.DB {
	q := ss.p.DB().WithContext(ctx).
		Table("states").
		Joins("LEFT JOIN state_spends ON state_spends.state_tx_id = states.tx_id AND state_spends.state_idx = states.idx").
		Where("states.state_type = ?", stateType)
	switch status {
	case obtypes.StateStatusUnconsumed:
		q = q.Where("state_spends.spent_by IS NULL")
	case obtypes.StateStatusConsumed:
		q = q.Where("state_spends.spent_by IS NOT NULL")
	}
	return q
}

func (ss *stateStore) findStates(q *gorm.DB) (rows []*stateRow, err error) {
	err = q.Select("states.*, state_spends.spent_by AS spent_by").Find(&rows).Error
	return rows, err
}

func (row *stateRow) status() obtypes.StateStatus {
	if row.SpentBy != nil {
		return obtypes.StateStatusConsumed
	}
	return obtypes.StateStatusUnconsumed
}

func (row *stateRow) obligation(ctx context.Context) (*obtypes.ObligationSnapshot, error) {
	var out obtypes.TxOutput
	if err := row.Data.Unmarshal(&out); err != nil || out.Obligation == nil {
		return nil, components.WrapError(ctx, components.ErrInternal, err, msgs.MsgStateOutputEmpty, row.Index, row.TxID)
	}
	return &obtypes.ObligationSnapshot{
		Ref:    obtypes.StateRef{TxID: row.TxID, Index: row.Index},
		State:  out.Obligation,
		Status: row.status(),
	}, nil
}

func (row *stateRow) cash(ctx context.Context) (*obtypes.CashSnapshot, error) {
	var out obtypes.TxOutput
	if err := row.Data.Unmarshal(&out); err != nil || out.Cash == nil {
		return nil, components.WrapError(ctx, components.ErrInternal, err, msgs.MsgStateOutputEmpty, row.Index, row.TxID)
	}
	return &obtypes.CashSnapshot{
		Ref:    obtypes.StateRef{TxID: row.TxID, Index: row.Index},
		State:  out.Cash,
		Status: row.status(),
	}, nil
}

func (ss *stateStore) obligations(ctx context.Context, rows []*stateRow) ([]*obtypes.ObligationSnapshot, error) {
	snapshots := make([]*obtypes.ObligationSnapshot, len(rows))
	for i, row := range rows {
		s, err := row.obligation(ctx)
		if err != nil {
			return nil, err
		}
		snapshots[i] = s
	}
	return snapshots, nil
}

// GetObligation returns nil if the node holds no obligation at the ref
func (ss *stateStore) GetObligation(ctx context.Context, ref *obtypes.StateRef) (*obtypes.ObligationSnapshot, error) {
	rows, err := ss.findStates(ss.stateQuery(ctx, obtypes.StateTypeObligation, obtypes.StateStatusAll).
		Where("states.tx_id = ? AND states.idx = ?", ref.TxID, ref.Index).
		Limit(1))
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].obligation(ctx)
}

// GetUnconsumedObligation returns nil if no version of the obligation is unconsumed
func (ss *stateStore) GetUnconsumedObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error) {
	rows, err := ss.findStates(ss.stateQuery(ctx, obtypes.StateTypeObligation, obtypes.StateStatusUnconsumed).
		Where("states.linear_id = ?", linearID).
		Order("states.created DESC").
		Limit(1))
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].obligation(ctx)
}

func refsCondition(refs []*obtypes.StateRef) (string, []interface{}) {
	conds := make([]string, len(refs))
	args := make([]interface{}, 0, len(refs)*2)
	for i, r := range refs {
		conds[i] = "(states.tx_id = ? AND states.idx = ?)"
		args = append(args, r.TxID, r.Index)
	}
	return fmt.Sprintf("(%s)", strings.Join(conds, " OR ")), args
}

// QueryObligations returns one page of matches sorted by quantity, plus the total count of
// matches. Ties on quantity are broken by creation order then ref, so paging is stable.
func (ss *stateStore) QueryObligations(ctx context.Context, sq *components.StateQuery) ([]*obtypes.ObligationSnapshot, int64, error) {
	filtered := func() *gorm.DB {
		q := ss.stateQuery(ctx, obtypes.StateTypeObligation, sq.Status)
		if len(sq.Refs) > 0 {
			cond, args := refsCondition(sq.Refs)
			q = q.Where(cond, args...)
		}
		if len(sq.LinearIDs) > 0 {
			q = q.Where("states.linear_id IN ?", sq.LinearIDs)
		}
		return q
	}
	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, -1, components.Classify(components.ErrInternal, err)
	}
	q := filtered().
		Order("states.quantity ASC").
		Order("states.created ASC").
		Order("states.tx_id ASC").
		Order("states.idx ASC").
		Offset(sq.Offset)
	if sq.Limit > 0 {
		q = q.Limit(sq.Limit)
	}
	rows, err := ss.findStates(q)
	if err != nil {
		return nil, -1, components.Classify(components.ErrInternal, err)
	}
	snapshots, err := ss.obligations(ctx, rows)
	return snapshots, total, err
}

// UnconsumedCash lists spendable cash oldest first. A nil key list matches every owner.
func (ss *stateStore) UnconsumedCash(ctx context.Context, currency string, ownerKeys []string) ([]*obtypes.CashSnapshot, error) {
	q := ss.stateQuery(ctx, obtypes.StateTypeCash, obtypes.StateStatusUnconsumed).
		Where("states.currency = ?", currency)
	if ownerKeys != nil {
		q = q.Where("states.owner_key IN ?", ownerKeys)
	}
	rows, err := ss.findStates(q.
		Order("states.created ASC").
		Order("states.tx_id ASC").
		Order("states.idx ASC"))
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	snapshots := make([]*obtypes.CashSnapshot, len(rows))
	for i, row := range rows {
		if snapshots[i], err = row.cash(ctx); err != nil {
			return nil, err
		}
	}
	return snapshots, nil
}
