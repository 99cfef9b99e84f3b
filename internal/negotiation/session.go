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
	"sync"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

const MessageTypeNegotiation = "negotiation"

type messageKind string

const (
	kindData messageKind = "data"
	// kindError aborts the session, and is handled out of band of the data sequence
	kindError messageKind = "error"
	// kindResume asks the peer to resend the last data message it sent in the session
	kindResume messageKind = "resume"
)

// sessionMessage is the envelope of every negotiation message. The session id is the
// negotiation id, shared by both sides. Data messages are numbered per direction from
// zero, so resends can be dropped and reordered messages queued.
type sessionMessage struct {
	Session   string          `json:"session"`
	Protocol  Protocol        `json:"protocol,omitempty"`
	Kind      messageKind     `json:"kind"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type,omitempty"`
	Body      obtypes.RawJSON `json:"body,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// session holds the sequencing of one negotiation in memory. The counters are
// copied into the checkpoint each time it is written.
type session struct {
	lock          sync.Mutex
	id            string
	protocol      Protocol
	peer          string
	nextIn        int
	nextOut       int
	lastSent      *sessionMessage
	lastSentState State
	pending       map[int]*sessionMessage
	peerErr       *sessionMessage
	peerFailed    chan struct{}
	notify        chan struct{}
}

func newSession(id string, protocol Protocol, peer string, data *checkpointData) *session {
	return &session{
		id:            id,
		protocol:      protocol,
		peer:          peer,
		nextIn:        data.SeqIn,
		nextOut:       data.SeqOut,
		lastSent:      data.LastSent,
		lastSentState: data.LastSentState,
		pending:       make(map[int]*sessionMessage),
		peerFailed:    make(chan struct{}),
		notify:        make(chan struct{}, 1),
	}
}

// nextData numbers an outbound data message. It returns nil if the same state already
// sent a message of this type before a restart, as the resume exchange redelivers it.
func (s *session) nextData(state State, msgType string, body obtypes.RawJSON) *sessionMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.lastSent != nil && s.lastSentState == state && s.lastSent.Type == msgType {
		return nil
	}
	sm := &sessionMessage{
		Session:  s.id,
		Protocol: s.protocol,
		Kind:     kindData,
		Seq:      s.nextOut,
		Type:     msgType,
		Body:     body,
	}
	s.nextOut++
	s.lastSent, s.lastSentState = sm, state
	return sm
}

func (s *session) last() *sessionMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastSent
}

// active is true once anything has been exchanged with the peer
func (s *session) active() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.nextIn > 0 || s.nextOut > 0
}

func (s *session) copyCounters(data *checkpointData) {
	s.lock.Lock()
	defer s.lock.Unlock()
	data.SeqIn, data.SeqOut = s.nextIn, s.nextOut
	data.LastSent, data.LastSentState = s.lastSent, s.lastSentState
}

// deliver never blocks, as it runs on the transport receive routine
func (s *session) deliver(sm *sessionMessage) {
	s.lock.Lock()
	switch sm.Kind {
	case kindError:
		if s.peerErr == nil {
			s.peerErr = sm
			close(s.peerFailed)
		}
	case kindData:
		if sm.Seq >= s.nextIn {
			s.pending[sm.Seq] = sm
		}
	}
	s.lock.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// peerError returns the abort received from the peer, if any
func (s *session) peerError(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.peerErr == nil {
		return nil
	}
	return components.NewError(ctx, components.ParseErrorKind(s.peerErr.ErrorKind), msgs.MsgNegotiationCounterpartyError, s.peer, s.peerErr.Error)
}

// receive returns the next data message in sequence
func (s *session) receive(ctx context.Context) (*sessionMessage, error) {
	for {
		if err := s.peerError(ctx); err != nil {
			return nil, err
		}
		s.lock.Lock()
		sm := s.pending[s.nextIn]
		if sm != nil {
			delete(s.pending, s.nextIn)
			s.nextIn++
		}
		s.lock.Unlock()
		if sm != nil {
			return sm, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
