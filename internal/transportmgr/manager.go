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

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

// transport moves messages to a named peer at a known endpoint, delivering inbound
// messages to the supplied function in the order each peer sent them
type transport interface {
	start(ctx context.Context, deliver func(ctx context.Context, msg *components.TransportMessage)) error
	send(ctx context.Context, node, endpoint string, msg *components.TransportMessage) error
	stop()
}

type transportManager struct {
	bgCtx     context.Context
	localName string
	registry  components.Registry
	transport transport

	handlerLock sync.RWMutex
	handlers    map[string]components.TransportHandler

	stateLock sync.Mutex
	started   bool
	stopped   bool
}

// NewTransportManager builds the configured transport. A loopback transport attaches to
// the supplied hub, which must be shared by every node in the process.
func NewTransportManager(bgCtx context.Context, conf *obconf.TransportManagerConfig, registry components.Registry, hub *LoopbackHub) (components.TransportManager, error) {
	tm := &transportManager{
		localName: registry.LocalNodeName(),
		registry:  registry,
		handlers:  make(map[string]components.TransportHandler),
	}
	tm.bgCtx = log.WithComponent(bgCtx, "transport")
	switch conf.Type {
	case "", obconf.TransportTypeGRPC:
		tm.transport = newGRPCTransport(&conf.GRPC)
	case obconf.TransportTypeLoopback:
		if hub == nil {
			hub = defaultHub
		}
		tm.transport = hub.newTransport(tm.localName, conf)
	default:
		return nil, i18n.NewError(bgCtx, msgs.MsgConfigTransportInvalid, conf.Type)
	}
	return tm, nil
}

func (tm *transportManager) Start() error {
	tm.stateLock.Lock()
	defer tm.stateLock.Unlock()
	if err := tm.transport.start(tm.bgCtx, tm.deliver); err != nil {
		return err
	}
	tm.started = true
	return nil
}

func (tm *transportManager) Stop() {
	tm.stateLock.Lock()
	defer tm.stateLock.Unlock()
	if tm.started && !tm.stopped {
		tm.transport.stop()
	}
	tm.stopped = true
}

func (tm *transportManager) LocalNodeName() string {
	return tm.localName
}

// RegisterHandler must be called before Start. Handlers run on the receive routine of
// the sending peer, so must hand off anything that blocks.
func (tm *transportManager) RegisterHandler(messageType string, handler components.TransportHandler) {
	tm.handlerLock.Lock()
	defer tm.handlerLock.Unlock()
	tm.handlers[messageType] = handler
}

func (tm *transportManager) deliver(ctx context.Context, msg *components.TransportMessage) {
	tm.handlerLock.RLock()
	handler := tm.handlers[msg.MessageType]
	tm.handlerLock.RUnlock()
	ctx = log.WithLogField(ctx, "peer", msg.ReplyTo)
	if handler == nil {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgTransportNoHandler, msg.MessageType))
		return
	}
	log.L(ctx).Tracef("Received %s message %s", msg.MessageType, msg.MessageID)
	handler(ctx, msg)
}

func (tm *transportManager) Send(ctx context.Context, msg *components.TransportMessage) error {
	if msg.MessageType == "" || msg.Payload.IsNil() || msg.Node == "" {
		return i18n.NewError(ctx, msgs.MsgTransportInvalidMessage, msg.MessageType)
	}
	tm.stateLock.Lock()
	stopped := tm.stopped
	tm.stateLock.Unlock()
	if stopped {
		return i18n.NewError(ctx, msgs.MsgTransportStopped)
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	msg.ReplyTo = tm.localName
	if msg.Node == tm.localName {
		// a node can be both a party and the notary it talks to
		go tm.deliver(tm.bgCtx, msg)
		return nil
	}
	entry, err := tm.registry.LookupByName(ctx, msg.Node)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgTransportUnknownNode, msg.Node)
	}
	if err := tm.transport.send(ctx, msg.Node, entry.Endpoint, msg); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgTransportSendFailed, msg.Node)
	}
	log.L(ctx).Tracef("Sent %s message %s to %s", msg.MessageType, msg.MessageID, msg.Node)
	return nil
}
