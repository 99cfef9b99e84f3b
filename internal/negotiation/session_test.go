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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

func dataMsg(seq int, msgType string) *sessionMessage {
	return &sessionMessage{Session: "s1", Kind: kindData, Seq: seq, Type: msgType}
}

func TestSessionOrderingAndDedup(t *testing.T) {
	ctx := context.Background()
	s := newSession("s1", ProtocolIssue, "Bob", &checkpointData{})
	assert.False(t, s.active())

	s.deliver(dataMsg(1, "second"))
	s.deliver(dataMsg(0, "first"))
	s.deliver(dataMsg(0, "first"))

	sm, err := s.receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", sm.Type)
	sm, err = s.receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", sm.Type)
	assert.True(t, s.active())

	// a resend of something already consumed is ignored
	s.deliver(dataMsg(1, "second"))
	ctxShort, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.receive(ctxShort)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionReceiveWaits(t *testing.T) {
	s := newSession("s1", ProtocolIssue, "Bob", &checkpointData{SeqIn: 3})
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.deliver(dataMsg(2, "old"))
		s.deliver(dataMsg(3, "next"))
	}()
	sm, err := s.receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "next", sm.Type)
}

func TestSessionNextDataSkipsResend(t *testing.T) {
	s := newSession("s1", ProtocolIssue, "Bob", &checkpointData{})
	sm := s.nextData(StateSendingHello, msgIssueHello, obtypes.JSONString(&issueHello{}))
	require.NotNil(t, sm)
	assert.Equal(t, 0, sm.Seq)
	assert.Equal(t, ProtocolIssue, sm.Protocol)

	var data checkpointData
	s.copyCounters(&data)
	assert.Equal(t, 1, data.SeqOut)
	assert.Equal(t, StateSendingHello, data.LastSentState)

	// after a restart the same step runs again, but must not send a second message
	restarted := newSession("s1", ProtocolIssue, "Bob", &data)
	assert.Nil(t, restarted.nextData(StateSendingHello, msgIssueHello, nil))
	assert.Equal(t, sm.Seq, restarted.last().Seq)

	next := restarted.nextData(StateBuilding, msgSignatureRequest, nil)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.Seq)
}

func TestSessionPeerError(t *testing.T) {
	ctx := context.Background()
	s := newSession("s1", ProtocolRedeem, "Alice", &checkpointData{})
	assert.NoError(t, s.peerError(ctx))

	s.deliver(dataMsg(0, "ignored"))
	s.deliver(&sessionMessage{Session: "s1", Kind: kindError, ErrorKind: string(components.ErrInsufficientFunds), Error: "no cash"})
	s.deliver(&sessionMessage{Session: "s1", Kind: kindError, ErrorKind: string(components.ErrInternal), Error: "second"})

	select {
	case <-s.peerFailed:
	default:
		t.Fatal("peer failure not signalled")
	}
	_, err := s.receive(ctx)
	assert.Regexp(t, "OB011001.*Alice.*no cash", err)
	assert.True(t, components.IsKind(err, components.ErrInsufficientFunds))
}
