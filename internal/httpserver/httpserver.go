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

// Package httpserver hosts the JSON-RPC, WebSocket and metrics listeners,
// each with per-request timeouts and request logging.
package httpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// RequestTimeoutHeader lets a caller ask for a shorter or longer wait, in seconds or as a Go duration
const RequestTimeoutHeader = "Request-Timeout"

type Server interface {
	Start() error
	Stop()
	Addr() net.Addr
}

type server struct {
	bgCtx           context.Context
	name            string
	listener        net.Listener
	srv             *http.Server
	served          chan error
	shutdownTimeout time.Duration
	timeouts        requestTimeouts
}

type requestTimeouts struct {
	def time.Duration
	max time.Duration
}

func NewServer(ctx context.Context, name string, conf *obconf.HTTPServerConfig, handler http.Handler) (Server, error) {
	defs := obconf.HTTPDefaults
	if conf.Port == nil {
		return nil, i18n.NewError(ctx, msgs.MsgHTTPServerMissingPort, name)
	}
	addr := fmt.Sprintf("%s:%d", confutil.StringNotEmpty(conf.Address, *defs.Address), *conf.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgHTTPServerStartFailed, addr)
	}
	log.L(ctx).Infof("%s listening on %s", name, listener.Addr())

	s := &server{
		bgCtx:           ctx,
		name:            name,
		listener:        listener,
		shutdownTimeout: confutil.DurationMin(conf.ShutdownTimeout, 0, *defs.ShutdownTimeout),
		timeouts: requestTimeouts{
			def: confutil.DurationMin(conf.DefaultRequestTimeout, time.Second, *defs.DefaultRequestTimeout),
			max: confutil.DurationMin(conf.MaxRequestTimeout, time.Second, *defs.MaxRequestTimeout),
		},
	}
	// the socket must stay open a little longer than the longest request
	ioTimeout := s.timeouts.max + time.Second
	s.srv = &http.Server{
		Handler:           WrapCorsIfEnabled(ctx, s.logged(handler), &conf.CORS),
		ReadTimeout:       confutil.DurationMin(conf.ReadTimeout, ioTimeout, "0"),
		ReadHeaderTimeout: confutil.DurationMin(conf.ReadTimeout, ioTimeout, "0"),
		WriteTimeout:      confutil.DurationMin(conf.WriteTimeout, ioTimeout, "0"),
		ConnContext: func(connCtx context.Context, c net.Conn) context.Context {
			l := log.L(ctx).WithField("req", obtypes.ShortID())
			l.Debugf("%s connection from %s", name, c.RemoteAddr())
			return log.WithLogger(connCtx, l)
		},
	}
	return s, nil
}

func (s *server) Addr() net.Addr {
	return s.listener.Addr()
}

// forRequest caps a requested timeout at the maximum, and ignores a header it cannot parse
func (rt requestTimeouts) forRequest(req *http.Request) time.Duration {
	h := req.Header.Get(RequestTimeoutHeader)
	if h == "" {
		return rt.def
	}
	d, err := time.ParseDuration(h)
	if secs, intErr := strconv.ParseInt(h, 10, 32); intErr == nil {
		d, err = time.Duration(secs)*time.Second, nil
	}
	if err != nil {
		log.L(req.Context()).Warnf("Ignoring invalid %s header %q: %s", RequestTimeoutHeader, h, err)
		return rt.def
	}
	return min(d, rt.max)
}

// statusRecorder keeps the status for the access log, and still lets the WebSocket upgrader hijack
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, i18n.NewError(context.Background(), msgs.MsgHTTPServerNoWSUpgrade, sr.ResponseWriter)
	}
	return hj.Hijack()
}

func (s *server) logged(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(req.Context(), s.timeouts.forRequest(req))
		defer cancel()

		log.L(ctx).Debugf("--> %s %s", req.Method, req.URL.Path)
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(sr, req.WithContext(ctx))
		log.L(ctx).Debugf("<-- %s %s [%d] (%s)", req.Method, req.URL.Path, sr.status, time.Since(start))
	})
}

func (s *server) Start() error {
	s.served = make(chan error, 1)
	go func() {
		s.served <- s.srv.Serve(s.listener)
	}()
	return nil
}

// Stop waits up to the shutdown timeout for requests in flight, then closes any that remain
func (s *server) Stop() {
	if s.served == nil {
		_ = s.listener.Close()
		return
	}
	log.L(s.bgCtx).Infof("%s shutting down", s.name)
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
		log.L(s.bgCtx).Warnf("%s closing connections still open after %s", s.name, s.shutdownTimeout)
		_ = s.srv.Close()
	}
	err := <-s.served
	s.served = nil
	log.L(s.bgCtx).Infof("%s stopped (err=%v)", s.name, err)
}
