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

// Package negotiation runs the two-party protocols that build, sign and commit
// obligation transactions. Each side of each protocol is an explicit state machine,
// checkpointed at every transition so a restarted node carries on where it stopped.
package negotiation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/flushwriter"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/internal/negotiation/metrics"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

const (
	maxOrphanSessions    = 1000
	maxOrphansPerSession = 20
)

// Dependencies are the components a negotiation manager drives
type Dependencies struct {
	Persistence      persistence.Persistence
	Registry         components.Registry
	IdentityResolver components.IdentityResolver
	KeyManager       components.KeyManager
	StateStore       components.StateStore
	Verifier         components.ContractVerifier
	Treasury         components.Treasury
	Transport        components.TransportManager
	Finality         components.LedgerFinality
	// optional, metrics are not exported if nil
	Metrics *prometheus.Registry
}

type negotiationManager struct {
	bgCtx            context.Context
	p                persistence.Persistence
	registry         components.Registry
	ir               components.IdentityResolver
	km               components.KeyManager
	ss               components.StateStore
	verifier         components.ContractVerifier
	treasury         components.Treasury
	tm               components.TransportManager
	finality         components.LedgerFinality
	metrics          metrics.NegotiationMetrics
	timeWindow       time.Duration
	maxPageSize      int
	resumeOnStart    bool
	checkpointWriter flushwriter.Writer[*checkpointRow, struct{}]

	lock    sync.Mutex
	active  map[string]*negotiation
	orphans map[string][]*sessionMessage
	stopped bool
	running sync.WaitGroup
}

// negotiation is one side of one protocol run. Only its own routine touches the
// checkpoint row and data, other routines go through the session.
type negotiation struct {
	m       *negotiationManager
	ctx     context.Context
	cancel  context.CancelFunc
	machine *machine
	row     *checkpointRow
	data    *checkpointData
	sess    *session
	resumed bool
	started time.Time
	done    chan struct{}
	result  *obtypes.SignedTransaction
	err     error
}

func NewNegotiationManager(bgCtx context.Context, conf *obconf.NegotiationConfig, deps *Dependencies) components.NegotiationManager {
	m := &negotiationManager{
		bgCtx:         log.WithComponent(bgCtx, "negotiation"),
		p:             deps.Persistence,
		registry:      deps.Registry,
		ir:            deps.IdentityResolver,
		km:            deps.KeyManager,
		ss:            deps.StateStore,
		verifier:      deps.Verifier,
		treasury:      deps.Treasury,
		tm:            deps.Transport,
		finality:      deps.Finality,
		metrics:       metrics.InitMetrics(deps.Metrics),
		timeWindow:    confutil.DurationMin(conf.TimeWindow, time.Second, *obconf.NegotiationDefaults.TimeWindow),
		maxPageSize:   confutil.IntMin(conf.MaxPageSize, 1, *obconf.NegotiationDefaults.MaxPageSize),
		resumeOnStart: confutil.Bool(conf.ResumeOnStart, *obconf.NegotiationDefaults.ResumeOnStart),
		active:        make(map[string]*negotiation),
		orphans:       make(map[string][]*sessionMessage),
	}
	m.checkpointWriter = flushwriter.NewWriter(m.bgCtx, "checkpoints", writeCheckpoints, m.p,
		&conf.CheckpointWriter, &obconf.NegotiationDefaults.CheckpointWriter)
	m.tm.RegisterHandler(MessageTypeNegotiation, m.handleMessage)
	return m
}

// Start must be called after the transport is started, as resumed negotiations
// immediately message their counterparties
func (m *negotiationManager) Start() error {
	m.checkpointWriter.Start()
	if !m.resumeOnStart {
		return nil
	}
	rows, err := m.unfinishedCheckpoints(m.bgCtx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := m.resume(row); err != nil {
			log.L(m.bgCtx).Errorf("Negotiation %s cannot be resumed: %s", row.ID, err)
		}
	}
	if len(rows) > 0 {
		log.L(m.bgCtx).Infof("Resumed %d negotiations", len(rows))
	}
	return nil
}

// Stop leaves every running negotiation at its last checkpoint
func (m *negotiationManager) Stop() {
	m.lock.Lock()
	m.stopped = true
	for _, n := range m.active {
		n.cancel()
	}
	m.lock.Unlock()
	m.running.Wait()
	m.checkpointWriter.Shutdown()
}

func (m *negotiationManager) newNegotiation(row *checkpointRow, data *checkpointData, mc *machine) *negotiation {
	n := &negotiation{
		m:       m,
		machine: mc,
		row:     row,
		data:    data,
		sess:    newSession(row.ID, row.Protocol, row.Counterparty, data),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	n.ctx, n.cancel = context.WithCancel(log.WithLogField(m.bgCtx, "negotiation", row.ID))
	return n
}

func newCheckpoint(id string, protocol Protocol, role Role, counterparty string, initial State) *checkpointRow {
	return &checkpointRow{
		ID:           id,
		Protocol:     protocol,
		Role:         role,
		State:        initial,
		Counterparty: counterparty,
		Created:      obtypes.TimestampNow(),
	}
}

// startCoordinator writes the first checkpoint before returning, so the negotiation
// id handed back to the caller can always be queried
func (m *negotiationManager) startCoordinator(ctx context.Context, protocol Protocol, counterparty string, data *checkpointData) (*negotiation, error) {
	mc := machineFor(protocol, RoleCoordinator)
	n := m.newNegotiation(newCheckpoint(uuid.New().String(), protocol, RoleCoordinator, counterparty, mc.initial), data, mc)
	if err := n.save(ctx); err != nil {
		return nil, err
	}
	if !m.launch(n) {
		return nil, components.NewError(ctx, components.ErrInternal, msgs.MsgComponentNodeNotStarted)
	}
	log.L(ctx).Infof("Started %s negotiation %s with %s", protocol, n.row.ID, counterparty)
	return n, nil
}

func (m *negotiationManager) resume(row *checkpointRow) error {
	mc := machineFor(row.Protocol, row.Role)
	if mc == nil {
		return i18n.NewError(m.bgCtx, msgs.MsgNegotiationUnknownProtocol, row.Protocol)
	}
	var data checkpointData
	if err := row.Data.Unmarshal(&data); err != nil {
		return i18n.WrapError(m.bgCtx, err, msgs.MsgNegotiationResumeFailed, row.ID)
	}
	n := m.newNegotiation(row, &data, mc)
	n.resumed = true
	m.launch(n)
	return nil
}

func (m *negotiationManager) launch(n *negotiation) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.stopped {
		return false
	}
	id := n.row.ID
	m.active[id] = n
	for _, sm := range m.orphans[id] {
		if sm.Kind == kindResume {
			n.resendLast(n.ctx)
		} else {
			n.sess.deliver(sm)
		}
	}
	delete(m.orphans, id)
	m.running.Add(1)
	go n.run()
	m.metrics.IncStarted(string(n.row.Protocol), string(n.row.Role))
	m.metrics.SetActive(len(m.active))
	return true
}

func (m *negotiationManager) finished(n *negotiation) {
	m.lock.Lock()
	delete(m.active, n.row.ID)
	m.metrics.SetActive(len(m.active))
	m.lock.Unlock()

	outcome := string(n.row.State)
	if n.err != nil {
		outcome = string(components.KindOf(n.err))
	}
	m.metrics.ObserveFinished(string(n.row.Protocol), string(n.row.Role), outcome, time.Since(n.started))
	close(n.done)
	m.running.Done()
}

// await returns the outcome of a negotiation, or a CommitTimeout if the caller gives
// up first. The negotiation carries on regardless.
func (m *negotiationManager) await(ctx context.Context, n *negotiation) (*obtypes.TransactionResult, error) {
	select {
	case <-n.done:
	case <-ctx.Done():
		return nil, components.NewError(ctx, components.ErrCommitTimeout, msgs.MsgNegotiationTimeout, n.row.ID)
	}
	if n.err != nil {
		return nil, n.err
	}
	stx := n.result
	res := &obtypes.TransactionResult{
		TransactionID: stx.ID,
		Negotiation:   n.row.ID,
	}
	for i, out := range stx.Proposal.Outputs {
		if out.Obligation != nil {
			res.Outputs = append(res.Outputs, &obtypes.ObligationSnapshot{
				Ref:    stx.OutputRef(i),
				State:  out.Obligation,
				Status: obtypes.StateStatusUnconsumed,
			})
		}
	}
	return res, nil
}

func (m *negotiationManager) GetNegotiation(ctx context.Context, id string) (*obtypes.NegotiationInfo, error) {
	row, err := m.getCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgNegotiationNotFound, id)
	}
	return row.info(), nil
}

// ListNegotiations returns the most recent first
func (m *negotiationManager) ListNegotiations(ctx context.Context, limit int) ([]*obtypes.NegotiationInfo, error) {
	if limit <= 0 || limit > m.maxPageSize {
		limit = m.maxPageSize
	}
	var rows []*checkpointRow
	err := m.p.DB().WithContext(ctx).Order("created DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	infos := make([]*obtypes.NegotiationInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.info()
	}
	return infos, nil
}

func (m *negotiationManager) sendSessionMessage(ctx context.Context, peer string, sm *sessionMessage) error {
	err := m.tm.Send(ctx, &components.TransportMessage{
		Node:        peer,
		MessageType: MessageTypeNegotiation,
		Payload:     obtypes.JSONString(sm),
	})
	return components.Classify(components.ErrInternal, err)
}

// handleMessage runs on the transport receive routine, so does no more than a
// quick checkpoint lookup before handing off
func (m *negotiationManager) handleMessage(ctx context.Context, msg *components.TransportMessage) {
	var sm sessionMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil || sm.Session == "" {
		log.L(ctx).Errorf("Discarding invalid negotiation message %s: %v", msg.MessageID, err)
		return
	}
	ctx = log.WithLogField(ctx, "negotiation", sm.Session)

	m.lock.Lock()
	n := m.active[sm.Session]
	m.lock.Unlock()
	if n != nil {
		if n.row.Counterparty != msg.ReplyTo {
			log.L(ctx).Warnf("Discarding message from '%s' for a negotiation with '%s'", msg.ReplyTo, n.row.Counterparty)
			return
		}
		if sm.Kind == kindResume {
			n.resendLast(ctx)
			return
		}
		n.sess.deliver(&sm)
		return
	}

	row, err := m.getCheckpoint(ctx, sm.Session)
	if err != nil {
		log.L(ctx).Errorf("Checkpoint lookup failed: %s", err)
		return
	}
	switch {
	case row == nil && sm.Kind == kindData && sm.Seq == 0 && sm.Protocol != "":
		m.spawnResponder(ctx, msg.ReplyTo, &sm)
	case row != nil && row.Counterparty != msg.ReplyTo:
		log.L(ctx).Warnf("Discarding message from '%s' for a negotiation with '%s'", msg.ReplyTo, row.Counterparty)
	case row != nil && row.Done:
		m.answerFinished(ctx, row, &sm)
	default:
		// waiting for this node to resume the negotiation, or for a lost first message to be resent
		m.addOrphan(ctx, &sm)
	}
}

func (m *negotiationManager) addOrphan(ctx context.Context, sm *sessionMessage) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if n := m.active[sm.Session]; n != nil {
		// launched while we were looking up the checkpoint
		n.sess.deliver(sm)
		return
	}
	queued := m.orphans[sm.Session]
	if (queued == nil && len(m.orphans) >= maxOrphanSessions) || len(queued) >= maxOrphansPerSession {
		log.L(ctx).Warnf("Dropping %s message %d for an unknown session", sm.Kind, sm.Seq)
		return
	}
	m.orphans[sm.Session] = append(queued, sm)
}

func (m *negotiationManager) spawnResponder(ctx context.Context, from string, sm *sessionMessage) {
	mc := machineFor(sm.Protocol, RoleResponder)
	if mc == nil {
		err := components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationUnknownProtocol, sm.Protocol)
		log.L(ctx).Errorf("%s", err)
		go m.sendError(m.bgCtx, from, sm.Session, sm.Protocol, err)
		return
	}
	n := m.newNegotiation(newCheckpoint(sm.Session, sm.Protocol, RoleResponder, from, mc.initial), &checkpointData{}, mc)
	n.sess.deliver(sm)
	if m.launch(n) {
		log.L(ctx).Infof("Responding to %s negotiation from %s", sm.Protocol, from)
	}
}

// answerFinished replies on behalf of a negotiation that already ended here,
// so a peer that missed the outcome can finish too
func (m *negotiationManager) answerFinished(ctx context.Context, row *checkpointRow, sm *sessionMessage) {
	switch {
	case sm.Kind == kindError:
		return
	case row.State == StateFailed:
		info := row.info()
		go m.sendSessionMessage(m.bgCtx, row.Counterparty, &sessionMessage{
			Session:   row.ID,
			Protocol:  row.Protocol,
			Kind:      kindError,
			ErrorKind: info.ErrorKind,
			Error:     info.Error,
		})
	case sm.Kind == kindResume:
		var data checkpointData
		if err := row.Data.Unmarshal(&data); err != nil || data.LastSent == nil {
			return
		}
		go m.sendSessionMessage(m.bgCtx, row.Counterparty, data.LastSent)
	}
}

func (m *negotiationManager) sendError(ctx context.Context, peer, session string, protocol Protocol, err error) {
	sendErr := m.sendSessionMessage(ctx, peer, &sessionMessage{
		Session:   session,
		Protocol:  protocol,
		Kind:      kindError,
		ErrorKind: string(components.KindOf(err)),
		Error:     err.Error(),
	})
	if sendErr != nil {
		log.L(ctx).Warnf("Failed to notify %s of the failure of negotiation %s: %s", peer, session, sendErr)
	}
}

func (n *negotiation) run() {
	defer n.m.finished(n)
	ctx := n.ctx
	if n.resumed {
		n.resendAfterRestart(ctx)
	}
	for !isTerminal(n.row.State) {
		step := n.machine.steps[n.row.State]
		if step == nil {
			n.fail(ctx, components.NewError(ctx, components.ErrInternal, msgs.MsgNegotiationInvalidTransition, n.machine.name, n.row.State, "?"))
			return
		}
		next, err := step(ctx, n)
		if err == nil {
			err = n.transition(ctx, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				log.L(ctx).Infof("Negotiation stopped in state %s", n.row.State)
				n.err = components.NewError(ctx, components.ErrInternal, msgs.MsgNegotiationCancelled, n.row.ID)
				return
			}
			n.fail(ctx, err)
			return
		}
	}
	n.result = n.data.Transaction
	log.L(ctx).Infof("Negotiation committed transaction %s", n.result.ID)
}

func (n *negotiation) transition(ctx context.Context, next State) error {
	from := n.row.State
	if err := n.machine.checkTransition(ctx, from, next); err != nil {
		return err
	}
	n.row.State = next
	n.row.Done = next == StateCommitted
	if err := n.save(ctx); err != nil {
		n.row.State, n.row.Done = from, false
		return err
	}
	log.L(ctx).Debugf("%s %s -> %s", n.machine.name, from, next)
	return nil
}

func (n *negotiation) fail(ctx context.Context, err error) {
	kind := components.KindOf(err)
	n.err = components.Classify(kind, err)
	log.L(ctx).Errorf("%s failed in state %s: %s", n.machine.name, n.row.State, n.err)

	kindStr, errStr := string(kind), n.err.Error()
	n.row.State, n.row.Done = StateFailed, true
	n.row.ErrorKind, n.row.Error = &kindStr, &errStr
	if werr := n.save(n.m.bgCtx); werr != nil {
		log.L(ctx).Errorf("Failed to record failure: %s", werr)
	}
	// an abort received from the peer is not echoed back
	if n.sess.active() && n.sess.peerError(ctx) == nil {
		n.m.sendError(ctx, n.row.Counterparty, n.row.ID, n.row.Protocol, n.err)
	}
}

func (n *negotiation) save(ctx context.Context) error {
	n.sess.copyCounters(n.data)
	n.row.Data = obtypes.JSONString(n.data)
	if n.data.Transaction != nil {
		txID := n.data.Transaction.ID
		n.row.TxID = &txID
	}
	return n.m.writeCheckpoint(ctx, n.row)
}

// send is a no-op if this state already sent the message before a restart
func (n *negotiation) send(ctx context.Context, msgType string, body any) error {
	sm := n.sess.nextData(n.row.State, msgType, obtypes.JSONString(body))
	if sm == nil {
		log.L(ctx).Debugf("%s already sent in state %s", msgType, n.row.State)
		return nil
	}
	return n.m.sendSessionMessage(ctx, n.row.Counterparty, sm)
}

// receive checkpoints before blocking, so a restart waits for the same message again
func (n *negotiation) receive(ctx context.Context, msgType string, body any) error {
	if err := n.save(ctx); err != nil {
		return err
	}
	sm, err := n.sess.receive(ctx)
	if err != nil {
		return err
	}
	if sm.Type != msgType {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationUnexpectedMessage, sm.Type, msgType)
	}
	if err := sm.Body.Unmarshal(body); err != nil {
		return components.WrapError(ctx, components.ErrProtocolViolation, err, msgs.MsgNegotiationBadMessage, msgType, n.row.Counterparty)
	}
	return nil
}

func (n *negotiation) resendLast(ctx context.Context) {
	if last := n.sess.last(); last != nil {
		go func() {
			if err := n.m.sendSessionMessage(n.m.bgCtx, n.row.Counterparty, last); err != nil {
				log.L(ctx).Warnf("Failed to resend %s: %s", last.Type, err)
			}
		}()
	}
}

// resendAfterRestart asks the peer for its last message, in case this node lost it,
// and repeats our own in case the peer did
func (n *negotiation) resendAfterRestart(ctx context.Context) {
	err := n.m.sendSessionMessage(ctx, n.row.Counterparty, &sessionMessage{
		Session:  n.row.ID,
		Protocol: n.row.Protocol,
		Kind:     kindResume,
	})
	if err != nil {
		log.L(ctx).Warnf("Failed to request resend from %s: %s", n.row.Counterparty, err)
	}
	if last := n.sess.last(); last != nil {
		if err := n.m.sendSessionMessage(ctx, n.row.Counterparty, last); err != nil {
			log.L(ctx).Warnf("Failed to resend %s: %s", last.Type, err)
		}
	}
}
