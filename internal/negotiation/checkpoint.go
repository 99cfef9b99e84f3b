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

package negotiation

import (
	"context"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/flushwriter"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"gorm.io/gorm/clause"
)

type checkpointRow struct {
	ID           string            `gorm:"column:id;primaryKey"`
	Protocol     Protocol          `gorm:"column:protocol"`
	Role         Role              `gorm:"column:role"`
	State        State             `gorm:"column:state"`
	Counterparty string            `gorm:"column:counterparty"`
	TxID         *obtypes.Bytes32  `gorm:"column:tx_id"`
	Data         obtypes.RawJSON   `gorm:"column:data"`
	Done         bool              `gorm:"column:done"`
	ErrorKind    *string           `gorm:"column:error_kind"`
	Error        *string           `gorm:"column:error"`
	Created      obtypes.Timestamp `gorm:"column:created"`
	Updated      obtypes.Timestamp `gorm:"column:updated"`
}

func (checkpointRow) TableName() string {
	return "negotiation_checkpoints"
}

func (r *checkpointRow) WriteKey() string {
	return r.ID
}

func (r *checkpointRow) info() *obtypes.NegotiationInfo {
	ni := &obtypes.NegotiationInfo{
		ID:            r.ID,
		Protocol:      string(r.Protocol),
		Role:          string(r.Role),
		State:         string(r.State),
		Counterparty:  r.Counterparty,
		TransactionID: r.TxID,
		Done:          r.Done,
		Created:       r.Created,
		Updated:       r.Updated,
	}
	if r.ErrorKind != nil {
		ni.ErrorKind = *r.ErrorKind
	}
	if r.Error != nil {
		ni.Error = *r.Error
	}
	return ni
}

// checkpointData is everything a negotiation needs to carry on from its last state
type checkpointData struct {
	SeqIn    int             `json:"seqIn"`
	SeqOut   int             `json:"seqOut"`
	LastSent *sessionMessage `json:"lastSent,omitempty"`
	// the state that sent LastSent, so a resumed state does not send twice
	LastSentState State `json:"lastSentState,omitempty"`

	Amount    *obtypes.Amount  `json:"amount,omitempty"`
	Lender    string           `json:"lender,omitempty"`
	NewLender string           `json:"newLender,omitempty"`
	Anonymous bool             `json:"anonymous,omitempty"`
	Remark    *string          `json:"remark,omitempty"`
	Secret    obtypes.HexBytes `json:"secret,omitempty"`

	Snapshot *obtypes.ObligationSnapshot   `json:"snapshot,omitempty"`
	Inputs   []*obtypes.ObligationSnapshot `json:"inputs,omitempty"`

	OwnCertificate *obtypes.IdentityCertificate `json:"ownCertificate,omitempty"`
	Identities     map[string]*obtypes.Party    `json:"identities,omitempty"`
	Transaction    *obtypes.SignedTransaction   `json:"transaction,omitempty"`
}

// writeCheckpoints upserts a batch, keeping only the last write of each negotiation
// as one statement cannot update the same row twice
func writeCheckpoints(ctx context.Context, dbTX persistence.DBTX, rows []*checkpointRow) ([]flushwriter.Result[struct{}], error) {
	latest := make(map[string]*checkpointRow, len(rows))
	deduped := make([]*checkpointRow, 0, len(rows))
	for _, r := range rows {
		if _, seen := latest[r.ID]; !seen {
			deduped = append(deduped, r)
		}
		latest[r.ID] = r
	}
	for i, r := range deduped {
		deduped[i] = latest[r.ID]
	}
	err := dbTX.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(deduped).Error
	if err != nil {
		return nil, err
	}
	return make([]flushwriter.Result[struct{}], len(rows)), nil
}

func (m *negotiationManager) getCheckpoint(ctx context.Context, id string) (*checkpointRow, error) {
	var rows []*checkpointRow
	err := m.p.DB().WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *negotiationManager) unfinishedCheckpoints(ctx context.Context) ([]*checkpointRow, error) {
	var rows []*checkpointRow
	err := m.p.DB().WithContext(ctx).Where("done = ?", false).Order("created").Find(&rows).Error
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	return rows, nil
}

// writeCheckpoint blocks until the checkpoint is durable
func (m *negotiationManager) writeCheckpoint(ctx context.Context, row *checkpointRow) error {
	c := *row
	c.Updated = obtypes.TimestampNow()
	_, err := m.checkpointWriter.QueueWithFlush(ctx, &c).WaitFlushed(ctx)
	if err != nil {
		return components.WrapError(ctx, components.ErrInternal, err, msgs.MsgNegotiationCheckpointFailed, row.ID)
	}
	return nil
}
