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

// Package rpcserver serves the node's JSON/RPC API over HTTP and WebSockets,
// routing "group_method" names to registered modules.
package rpcserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/suweicong/obligation-cordapp/internal/httpserver"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

type RPCServer interface {
	Start() error
	Stop()
	// HTTPAddr and WSAddr are nil for a disabled listener
	HTTPAddr() net.Addr
	WSAddr() net.Addr

	Register(module *RPCModule)
}

type rpcServer struct {
	bgCtx      context.Context
	httpServer httpserver.Server
	wsServer   httpserver.Server
	wsUpgrader *websocket.Upgrader
	rpcModules map[string]*RPCModule

	wsMux         sync.Mutex
	wsConnections map[string]*wsConn
}

func NewRPCServer(ctx context.Context, conf *obconf.RPCServerConfig) (RPCServer, error) {
	s := &rpcServer{
		bgCtx:         ctx,
		wsConnections: make(map[string]*wsConn),
		rpcModules:    make(map[string]*RPCModule),
	}
	var err error
	if !conf.HTTP.Disabled {
		r := mux.NewRouter()
		r.HandleFunc("/", s.httpHandler).Methods(http.MethodPost)
		r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusMethodNotAllowed)
		})
		s.httpServer, err = listen(ctx, "JSON/RPC (HTTP)", conf.HTTP.HTTPServerConfig, obconf.DefaultHTTPPort, r)
	}
	if err == nil && !conf.WS.Disabled {
		defs := obconf.WSDefaults
		s.wsUpgrader = &websocket.Upgrader{
			ReadBufferSize:  int(confutil.ByteSize(conf.WS.ReadBufferSize, 0, *defs.ReadBufferSize)),
			WriteBufferSize: int(confutil.ByteSize(conf.WS.WriteBufferSize, 0, *defs.WriteBufferSize)),
		}
		s.wsServer, err = listen(ctx, "JSON/RPC (WebSocket)", conf.WS.HTTPServerConfig, obconf.DefaultWebSocketPort, http.HandlerFunc(s.wsHandler))
	}
	if err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// listen takes a copy of the config, so the default port is not written back into the caller's config
func listen(ctx context.Context, name string, conf obconf.HTTPServerConfig, defPort int, handler http.Handler) (httpserver.Server, error) {
	if conf.Port == nil {
		conf.Port = confutil.P(defPort)
	}
	return httpserver.NewServer(ctx, name, &conf, handler)
}

func (s *rpcServer) Register(module *RPCModule) {
	log.L(s.bgCtx).Debugf("Registered RPC group %s: %v", module.group, module.MethodNames())
	s.rpcModules[module.group] = module
}

func addrOf(server httpserver.Server) net.Addr {
	if server == nil {
		return nil
	}
	return server.Addr()
}

func (s *rpcServer) HTTPAddr() net.Addr { return addrOf(s.httpServer) }

func (s *rpcServer) WSAddr() net.Addr { return addrOf(s.wsServer) }

func (s *rpcServer) servers() []httpserver.Server {
	var servers []httpserver.Server
	for _, server := range []httpserver.Server{s.httpServer, s.wsServer} {
		if server != nil {
			servers = append(servers, server)
		}
	}
	return servers
}

// httpHandler answers 500 only when nothing in the request succeeded, with the JSON/RPC errors in the body
func (s *rpcServer) httpHandler(w http.ResponseWriter, req *http.Request) {
	var reply any
	ok := false
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		reply = s.unparsable(req.Context(), payload, err)
	} else {
		reply, ok = s.dispatch(req.Context(), payload)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (s *rpcServer) wsHandler(w http.ResponseWriter, req *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		log.L(req.Context()).Errorf("WebSocket upgrade failed: %s", err)
		return
	}
	s.newWSConnection(conn)
}

func (s *rpcServer) Start() error {
	for _, server := range s.servers() {
		if err := server.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains both listeners in parallel, then drops any WebSocket clients still connected
func (s *rpcServer) Stop() {
	var wg sync.WaitGroup
	for _, server := range s.servers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.Stop()
		}()
	}
	wg.Wait()

	s.wsMux.Lock()
	conns := make([]*wsConn, 0, len(s.wsConnections))
	for _, c := range s.wsConnections {
		conns = append(conns, c)
	}
	s.wsMux.Unlock()
	for _, c := range conns {
		c.close()
	}
}
