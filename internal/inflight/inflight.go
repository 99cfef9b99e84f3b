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

// Package inflight correlates asynchronous replies (notary responses, finality
// notices) with the goroutine waiting on them, keyed by a string ID.
package inflight

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

type Manager[T any] struct {
	lock     sync.Mutex
	requests map[string]*Request[T]
	closed   bool
}

type Request[T any] struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	m         *Manager[T]
	id        string
	queued    time.Time
	done      chan T
}

func NewManager[T any]() *Manager[T] {
	return &Manager[T]{
		requests: make(map[string]*Request[T]),
	}
}

// Add registers a waiter. Wait returns when the reply arrives, ctx ends, or the manager closes.
func (m *Manager[T]) Add(ctx context.Context, id string) *Request[T] {
	req := &Request[T]{
		m:      m,
		id:     id,
		queued: time.Now(),
		done:   make(chan T, 1),
	}
	req.ctx, req.cancelCtx = context.WithCancel(ctx)
	m.lock.Lock()
	defer m.lock.Unlock()
	if existing := m.requests[id]; existing != nil {
		// a re-registration takes over the channel of the request it replaces
		req.done = existing.done
	}
	m.requests[id] = req
	if m.closed {
		req.cancelCtx()
	}
	return req
}

func (m *Manager[T]) Get(id string) *Request[T] {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.requests[id]
}

// Complete delivers a reply if anybody is waiting, returning false otherwise
func (m *Manager[T]) Complete(id string, v T) bool {
	req := m.Get(id)
	if req == nil {
		return false
	}
	req.Complete(v)
	return true
}

func (m *Manager[T]) Count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.requests)
}

func (m *Manager[T]) wait(req *Request[T]) (T, error) {
	select {
	case <-req.ctx.Done():
		return *new(T), i18n.NewError(req.ctx, msgs.MsgInflightRequestCancelled, req.Age())
	case reply := <-req.done:
		return reply, nil
	}
}

func (m *Manager[T]) cancel(req *Request[T]) {
	m.lock.Lock()
	defer m.lock.Unlock()
	req.cancelCtx()
	if m.requests[req.id] == req {
		delete(m.requests, req.id)
	}
}

func (m *Manager[T]) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	for id, req := range m.requests {
		req.cancelCtx()
		delete(m.requests, id)
	}
}

func (req *Request[T]) ID() string {
	return req.id
}

func (req *Request[T]) Age() time.Duration {
	return time.Since(req.queued)
}

func (req *Request[T]) Complete(v T) {
	// single delivery, never blocks
	select {
	case req.done <- v:
	default:
	}
}

func (req *Request[T]) Wait() (T, error) {
	return req.m.wait(req)
}

// Done exposes the context the request is bound to, so callers can tell a
// deadline from a manager shutdown.
func (req *Request[T]) Done() <-chan struct{} {
	return req.ctx.Done()
}

func (req *Request[T]) Err() error {
	return req.ctx.Err()
}

func (req *Request[T]) Cancel() {
	req.m.cancel(req)
}
