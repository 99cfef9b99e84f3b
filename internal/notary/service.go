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

package notary

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"gorm.io/gorm/clause"
)

const consumedLock = "notary_consumed"

type consumedRow struct {
	StateTxID  obtypes.Bytes32   `gorm:"column:state_tx_id;primaryKey"`
	StateIdx   int               `gorm:"column:state_idx;primaryKey"`
	ConsumedBy obtypes.Bytes32   `gorm:"column:consumed_by"`
	Created    obtypes.Timestamp `gorm:"column:created"`
}

func (consumedRow) TableName() string {
	return "notary_consumed"
}

// Service is a notary that shares its signing key with every other notary in the pool,
// and its consumed-input table with them through the database.
type Service struct {
	bgCtx          context.Context
	p              persistence.Persistence
	km             components.KeyManager
	verifier       components.ContractVerifier
	tm             components.TransportManager
	clockTolerance time.Duration
	now            func() obtypes.Timestamp
}

func NewService(bgCtx context.Context, conf *obconf.NotaryConfig, p persistence.Persistence, km components.KeyManager, verifier components.ContractVerifier, tm components.TransportManager) *Service {
	s := &Service{
		bgCtx:          log.WithComponent(bgCtx, "notary"),
		p:              p,
		km:             km,
		verifier:       verifier,
		tm:             tm,
		clockTolerance: confutil.DurationMin(conf.ClockTolerance, 0, *obconf.NotaryDefaults.ClockTolerance),
		now:            obtypes.TimestampNow,
	}
	if tm != nil {
		tm.RegisterHandler(MessageTypeNotaryRequest, s.handleRequest)
	}
	return s
}

func rejected(ctx context.Context, stx *obtypes.SignedTransaction, err error) error {
	return components.WrapError(ctx, components.ErrCommitRejected, err, msgs.MsgNotaryRejected, stx.ID, err.Error())
}

// Notarise checks the transaction, then records its inputs as consumed. Repeating the call
// for a transaction that was already notarised returns a fresh signature over the same id.
func (s *Service) Notarise(ctx context.Context, stx *obtypes.SignedTransaction) (*obtypes.Signature, error) {
	notaryKey := s.km.WellKnownKey()
	if stx.Proposal == nil {
		return nil, components.NewError(ctx, components.ErrCommitRejected, msgs.MsgNotaryIDMismatch, stx.ID, "")
	}
	if stx.Proposal.Notary != notaryKey {
		return nil, components.NewError(ctx, components.ErrCommitRejected, msgs.MsgNotaryWrongNotary, stx.ID, stx.Proposal.Notary, notaryKey)
	}
	if err := stx.VerifySignatures(ctx); err != nil {
		return nil, rejected(ctx, stx, err)
	}
	if missing := stx.MissingSigners(); len(missing) > 0 {
		return nil, components.NewError(ctx, components.ErrCommitRejected, msgs.MsgNotarySignatureMissing, stx.ID, missing)
	}
	if tw := stx.Proposal.TimeWindow; tw != nil {
		now := s.now()
		if now.Add(s.clockTolerance) < tw.From || now.Add(-s.clockTolerance) > tw.Until {
			return nil, components.NewError(ctx, components.ErrCommitRejected, msgs.MsgNotaryTimeWindow, stx.ID, now, tw.From, tw.Until)
		}
	}
	if err := s.verifier.Verify(ctx, stx.Proposal); err != nil {
		return nil, rejected(ctx, stx, err)
	}

	err := s.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := s.p.TakeNamedLock(ctx, dbTX, consumedLock); err != nil {
			return err
		}
		return s.consumeInputs(ctx, dbTX, stx)
	})
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}

	sig, err := s.km.Sign(ctx, notaryKey, stx.ID[:])
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	log.L(ctx).Infof("Notarised transaction %s (inputs=%d)", stx.ID, len(stx.Proposal.Inputs))
	return sig, nil
}

func (s *Service) consumeInputs(ctx context.Context, dbTX persistence.DBTX, stx *obtypes.SignedTransaction) error {
	if len(stx.Proposal.Inputs) == 0 {
		return nil
	}
	db := dbTX.DB().WithContext(ctx)
	now := obtypes.TimestampNow()
	rows := make([]*consumedRow, len(stx.Proposal.Inputs))
	for i, in := range stx.Proposal.Inputs {
		var existing []*consumedRow
		err := db.Where("state_tx_id = ? AND state_idx = ?", in.Ref.TxID, in.Ref.Index).Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if len(existing) > 0 && existing[0].ConsumedBy != stx.ID {
			return components.NewError(ctx, components.ErrConcurrencyConflict, msgs.MsgNotaryDoubleSpend, in.Ref, existing[0].ConsumedBy)
		}
		rows[i] = &consumedRow{
			StateTxID:  in.Ref.TxID,
			StateIdx:   in.Ref.Index,
			ConsumedBy: stx.ID,
			Created:    now,
		}
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
}

func (s *Service) handleRequest(ctx context.Context, msg *components.TransportMessage) {
	var req notaryRequest
	if err := msg.Payload.Unmarshal(&req); err != nil || req.Transaction == nil {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgNegotiationBadMessage, msg.MessageType, msg.ReplyTo))
		return
	}
	// notarising takes a DB transaction, so it must not hold up the peer's receive routine
	go s.respond(msg, req.Transaction)
}

func (s *Service) respond(msg *components.TransportMessage, stx *obtypes.SignedTransaction) {
	ctx := log.WithLogField(s.bgCtx, "tx", stx.ID.String())
	res := &notaryResponse{TxID: stx.ID}
	sig, err := s.Notarise(ctx, stx)
	if err != nil {
		log.L(ctx).Warnf("Refusing transaction from %s: %s", msg.ReplyTo, err)
		res.ErrorKind = string(components.KindOf(err))
		res.Error = err.Error()
	} else {
		res.Signature = sig
	}
	err = s.tm.Send(ctx, &components.TransportMessage{
		Node:          msg.ReplyTo,
		CorrelationID: msg.MessageID,
		MessageType:   MessageTypeNotaryResponse,
		Payload:       obtypes.JSONString(res),
	})
	if err != nil {
		log.L(ctx).Errorf("Failed to send notary response to %s: %s", msg.ReplyTo, err)
	}
}
