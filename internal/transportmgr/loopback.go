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

package transportmgr

import (
	"context"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

// LoopbackHub connects in-process nodes, for tests and single-process networks
type LoopbackHub struct {
	lock      sync.RWMutex
	nodes     map[string]*loopbackTransport
	intercept func(msg *components.TransportMessage) bool
}

var defaultHub = NewLoopbackHub()

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{nodes: make(map[string]*loopbackTransport)}
}

// Intercept installs a filter over every message; returning false drops the message
func (h *LoopbackHub) Intercept(fn func(msg *components.TransportMessage) bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.intercept = fn
}

type loopbackTransport struct {
	hub     *LoopbackHub
	name    string
	queue   chan *components.TransportMessage
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	deliver func(ctx context.Context, msg *components.TransportMessage)
}

func (h *LoopbackHub) newTransport(name string, conf *obconf.TransportManagerConfig) *loopbackTransport {
	return &loopbackTransport{
		hub:   h,
		name:  name,
		queue: make(chan *components.TransportMessage, confutil.IntMin(conf.SendQueueLen, 1, *obconf.TransportManagerDefaults.SendQueueLen)),
		done:  make(chan struct{}),
	}
}

func (lt *loopbackTransport) start(ctx context.Context, deliver func(ctx context.Context, msg *components.TransportMessage)) error {
	lt.ctx, lt.cancel = context.WithCancel(ctx)
	lt.deliver = deliver
	lt.hub.lock.Lock()
	lt.hub.nodes[lt.name] = lt
	lt.hub.lock.Unlock()
	go lt.receiveLoop()
	return nil
}

func (lt *loopbackTransport) receiveLoop() {
	defer close(lt.done)
	for {
		select {
		case msg := <-lt.queue:
			lt.deliver(lt.ctx, msg)
		case <-lt.ctx.Done():
			log.L(lt.ctx).Debugf("Loopback receiver for %s stopped", lt.name)
			return
		}
	}
}

func (lt *loopbackTransport) send(ctx context.Context, node, _ string, msg *components.TransportMessage) error {
	lt.hub.lock.RLock()
	target := lt.hub.nodes[node]
	intercept := lt.hub.intercept
	lt.hub.lock.RUnlock()
	if target == nil {
		return i18n.NewError(ctx, msgs.MsgTransportLoopbackNotFound, node)
	}
	if intercept != nil && !intercept(msg) {
		log.L(ctx).Debugf("Loopback dropped %s message %s to %s", msg.MessageType, msg.MessageID, node)
		return nil
	}
	copied := *msg
	select {
	case target.queue <- &copied:
		return nil
	case <-target.ctx.Done():
		return i18n.NewError(ctx, msgs.MsgTransportLoopbackNotFound, node)
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}

func (lt *loopbackTransport) stop() {
	lt.hub.lock.Lock()
	if lt.hub.nodes[lt.name] == lt {
		delete(lt.hub.nodes, lt.name)
	}
	lt.hub.lock.Unlock()
	lt.cancel()
	<-lt.done
}
