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

package rpcserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// wsConn serves JSON/RPC over one WebSocket. Requests are dispatched concurrently,
// and a single writer goroutine owns all writes to the socket.
type wsConn struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	id        string
	server    *rpcServer
	conn      *websocket.Conn
	outbound  chan []byte
	closeOnce sync.Once
}

func (s *rpcServer) newWSConnection(conn *websocket.Conn) {
	c := &wsConn{
		id:       obtypes.ShortID(),
		server:   s,
		conn:     conn,
		outbound: make(chan []byte),
	}
	c.ctx, c.cancelCtx = context.WithCancel(log.WithLogField(s.bgCtx, "wsconn", c.id))

	s.wsMux.Lock()
	s.wsConnections[c.id] = c
	s.wsMux.Unlock()

	log.L(c.ctx).Infof("WebSocket client connected from %s", conn.RemoteAddr())
	go c.readLoop()
	go c.writeLoop()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.cancelCtx()
		_ = c.conn.Close()
		c.server.wsMux.Lock()
		delete(c.server.wsConnections, c.id)
		c.server.wsMux.Unlock()
		log.L(c.ctx).Infof("WebSocket client disconnected")
	})
}

func (c *wsConn) readLoop() {
	defer c.close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.L(c.ctx).Debugf("WebSocket read ended: %s", err)
			return
		}
		go func() {
			res, _ := c.server.dispatch(c.ctx, payload)
			c.reply(res)
		}()
	}
}

func (c *wsConn) reply(res any) {
	payload, err := json.Marshal(res)
	if err != nil {
		log.L(c.ctx).Errorf("Closing connection after unserializable response: %s", err)
		c.close()
		return
	}
	select {
	case c.outbound <- payload:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) writeLoop() {
	defer c.close()
	for {
		select {
		case payload := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.L(c.ctx).Errorf("WebSocket write failed: %s", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
