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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	transportServiceName = "obligation.transport.PeerTransport"
	sendStreamMethod     = "/" + transportServiceName + "/ConnectSendStream"
)

// jsonCodec carries TransportMessage structs directly, so the service needs no generated code
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

type peerTransportServer interface {
	connectSendStream(stream grpc.ServerStream) error
}

var peerTransportServiceDesc = grpc.ServiceDesc{
	ServiceName: transportServiceName,
	HandlerType: (*peerTransportServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName: "ConnectSendStream",
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(peerTransportServer).connectSendStream(stream)
		},
		ClientStreams: true,
	}},
}

type grpcTransport struct {
	bgCtx          context.Context
	listenAddr     string
	maxMessageSize int
	connectTimeout time.Duration
	sendTimeout    time.Duration

	listener   net.Listener
	grpcServer *grpc.Server
	serverDone chan struct{}
	deliver    func(ctx context.Context, msg *components.TransportMessage)

	connLock sync.Mutex
	conns    map[string]*outboundConn
}

type outboundConn struct {
	node     string
	endpoint string
	conn     *grpc.ClientConn
	sendLock sync.Mutex
	stream   grpc.ClientStream
	cancel   context.CancelFunc
}

func newGRPCTransport(conf *obconf.GRPCTransportConfig) *grpcTransport {
	defs := &obconf.TransportManagerDefaults.GRPC
	return &grpcTransport{
		listenAddr: fmt.Sprintf("%s:%d",
			confutil.StringNotEmpty(conf.Address, *defs.Address),
			confutil.Int(conf.Port, *defs.Port)),
		maxMessageSize: int(confutil.ByteSize(conf.MaxMessageSize, 1024, *defs.MaxMessageSize)),
		connectTimeout: confutil.DurationMin(conf.ConnectTimeout, 0, *defs.ConnectTimeout),
		sendTimeout:    confutil.DurationMin(conf.SendTimeout, 0, *defs.SendTimeout),
		conns:          make(map[string]*outboundConn),
	}
}

func (t *grpcTransport) start(ctx context.Context, deliver func(ctx context.Context, msg *components.TransportMessage)) (err error) {
	t.bgCtx = ctx
	t.deliver = deliver
	t.listener, err = net.Listen("tcp", t.listenAddr)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgTransportStartFailed, t.listenAddr)
	}
	t.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(t.maxMessageSize),
	)
	t.grpcServer.RegisterService(&peerTransportServiceDesc, t)
	t.serverDone = make(chan struct{})
	go t.serve()
	return nil
}

// addr is the bound listener address, which differs from the configured one when the port is 0
func (t *grpcTransport) addr() string {
	return t.listener.Addr().String()
}

func (t *grpcTransport) serve() {
	defer close(t.serverDone)
	log.L(t.bgCtx).Infof("gRPC transport listening on %s", t.listener.Addr())
	err := t.grpcServer.Serve(t.listener)
	log.L(t.bgCtx).Infof("gRPC transport stopped (err=%v)", err)
}

// connectSendStream is the long-lived inbound stream from one peer
func (t *grpcTransport) connectSendStream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	for {
		msg := new(components.TransportMessage)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.L(ctx).Infof("Inbound stream closing: %v", err)
			return err
		}
		t.deliver(t.bgCtx, msg)
	}
}

func (t *grpcTransport) getConnection(ctx context.Context, node, endpoint string) (*outboundConn, error) {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	if oc := t.conns[node]; oc != nil && oc.endpoint == endpoint {
		return oc, nil
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: t.connectTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallSendMsgSize(t.maxMessageSize),
		),
	)
	if err != nil {
		return nil, err
	}
	oc := &outboundConn{node: node, endpoint: endpoint, conn: conn}
	t.conns[node] = oc
	return oc, nil
}

func (oc *outboundConn) send(ctx context.Context, bgCtx context.Context, sendTimeout time.Duration, msg *components.TransportMessage) (err error) {
	oc.sendLock.Lock()
	defer oc.sendLock.Unlock()
	if oc.stream == nil {
		log.L(ctx).Infof("Opening stream to %s at %s", oc.node, oc.endpoint)
		// the stream outlives this send, so it is bound to the transport context
		var streamCtx context.Context
		streamCtx, oc.cancel = context.WithCancel(bgCtx)
		oc.stream, err = oc.conn.NewStream(streamCtx, &peerTransportServiceDesc.Streams[0], sendStreamMethod)
		if err != nil {
			oc.cancel()
			return err
		}
	}
	// a send blocked on flow control past the timeout tears down the stream
	stalled := time.AfterFunc(sendTimeout, oc.cancel)
	err = oc.stream.SendMsg(msg)
	stalled.Stop()
	if err != nil {
		log.L(ctx).Errorf("Closing stream to %s after send error: %s", oc.node, err)
		oc.closeStream()
	}
	return err
}

func (oc *outboundConn) closeStream() {
	if oc.stream != nil {
		_ = oc.stream.CloseSend()
		oc.cancel()
		oc.stream = nil
	}
}

func (t *grpcTransport) send(ctx context.Context, node, endpoint string, msg *components.TransportMessage) error {
	oc, err := t.getConnection(ctx, node, endpoint)
	if err != nil {
		return err
	}
	return oc.send(ctx, t.bgCtx, t.sendTimeout, msg)
}

func (t *grpcTransport) stop() {
	t.connLock.Lock()
	for node, oc := range t.conns {
		oc.sendLock.Lock()
		oc.closeStream()
		_ = oc.conn.Close()
		oc.sendLock.Unlock()
		delete(t.conns, node)
	}
	t.connLock.Unlock()
	if t.grpcServer != nil {
		t.grpcServer.Stop()
		<-t.serverDone
	}
}
