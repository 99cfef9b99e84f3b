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

// Package flushwriter batches small writes (negotiation checkpoints) into shared
// DB transactions. Writes with the same key always land on the same worker, so
// they are applied in the order they were queued.
package flushwriter

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

type Writeable interface {
	WriteKey() string
}

type Operation[R any] interface {
	// WaitFlushed blocks until the batch holding this write has committed or failed
	WaitFlushed(ctx context.Context) (R, error)
}

// BatchHandler runs inside one DB transaction for the whole batch. A returned
// error fails every operation in the batch; a Result.Err fails just that one.
type BatchHandler[T Writeable, R any] func(ctx context.Context, dbTX persistence.DBTX, values []T) ([]Result[R], error)

type Writer[T Writeable, R any] interface {
	Start()
	Queue(ctx context.Context, value T) Operation[R]
	// QueueWithFlush closes the batch as soon as the worker picks this write up
	QueueWithFlush(ctx context.Context, value T) Operation[R]
	Shutdown()
	ShutdownNow()
}

type Result[R any] struct {
	Err error
	R   R
}

type op[T Writeable, R any] struct {
	id       string
	writeKey string
	flush    bool
	stop     bool
	value    T
	done     chan Result[R]
}

type writer[T Writeable, R any] struct {
	bgCtx        context.Context
	cancelCtx    context.CancelFunc
	p            persistence.Persistence
	handler      BatchHandler[T, R]
	name         string
	batchTimeout time.Duration
	batchMaxSize int
	workerCount  int
	queues       []chan *op[T, R]
	workersDone  []chan struct{}
}

func NewWriter[T Writeable, R any](bgCtx context.Context, name string, handler BatchHandler[T, R], p persistence.Persistence, conf *obconf.FlushWriterConfig, defs *obconf.FlushWriterConfig) Writer[T, R] {
	w := &writer[T, R]{
		p:            p,
		name:         fmt.Sprintf("%s_%s", name, obtypes.ShortID()),
		handler:      handler,
		workerCount:  confutil.IntMin(conf.WorkerCount, 1, *defs.WorkerCount),
		batchMaxSize: confutil.IntMin(conf.BatchMaxSize, 1, *defs.BatchMaxSize),
		batchTimeout: confutil.DurationMin(conf.BatchTimeout, 0, *defs.BatchTimeout),
	}
	w.bgCtx, w.cancelCtx = context.WithCancel(bgCtx)
	return w
}

func (w *writer[T, R]) Start() {
	log.L(w.bgCtx).Debugf("Starting %d workers for %s", w.workerCount, w.name)
	w.workersDone = make([]chan struct{}, w.workerCount)
	w.queues = make([]chan *op[T, R], w.workerCount)
	for i := range w.queues {
		w.workersDone[i] = make(chan struct{})
		w.queues[i] = make(chan *op[T, R], w.batchMaxSize)
		go w.worker(i)
	}
}

func (w *writer[T, R]) Queue(ctx context.Context, value T) Operation[R] {
	return w.queue(ctx, value, false)
}

func (w *writer[T, R]) QueueWithFlush(ctx context.Context, value T) Operation[R] {
	return w.queue(ctx, value, true)
}

func (o *op[T, R]) WaitFlushed(ctx context.Context) (R, error) {
	select {
	case r := <-o.done:
		return r.R, r.Err
	case <-ctx.Done():
		return *(new(R)), i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}

func (w *writer[T, R]) queue(ctx context.Context, value T, flush bool) *op[T, R] {
	o := &op[T, R]{
		id:       obtypes.ShortID(),
		writeKey: value.WriteKey(),
		value:    value,
		flush:    flush,
		done:     make(chan Result[R], 1),
	}
	if o.writeKey == "" {
		o.done <- Result[R]{Err: i18n.NewError(ctx, msgs.MsgFlushWriterOpInvalid)}
		return o
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(o.writeKey))
	worker := h.Sum32() % uint32(w.workerCount)
	select {
	case w.queues[worker] <- o:
	case <-ctx.Done():
		// caller gave up; WaitFlushed reports their own context
	case <-w.bgCtx.Done():
		o.done <- Result[R]{Err: i18n.NewError(ctx, msgs.MsgFlushWriterQuiescing)}
	}
	return o
}

func (w *writer[T, R]) worker(i int) {
	defer close(w.workersDone[i])
	ctx := log.WithLogField(w.bgCtx, "writer", fmt.Sprintf("%s_%.2d", w.name, i))
	var batch []*op[T, R]
	var batchTimer <-chan time.Time
	for {
		runNow := false
		var stopping *op[T, R]
		select {
		case o := <-w.queues[i]:
			if o.stop {
				stopping = o
				runNow = true
				break
			}
			if len(batch) == 0 {
				batchTimer = time.After(w.batchTimeout)
			}
			batch = append(batch, o)
			runNow = o.flush || len(batch) >= w.batchMaxSize
		case <-batchTimer:
			runNow = true
		case <-ctx.Done():
			for _, o := range batch {
				o.done <- Result[R]{Err: i18n.NewError(ctx, msgs.MsgFlushWriterQuiescing)}
			}
			return
		}
		if runNow && len(batch) > 0 {
			w.runBatch(ctx, batch)
			batch, batchTimer = nil, nil
		}
		if stopping != nil {
			close(stopping.done)
			return
		}
	}
}

func (w *writer[T, R]) runBatch(ctx context.Context, batch []*op[T, R]) {
	values := make([]T, len(batch))
	for i, o := range batch {
		values[i] = o.value
	}
	start := time.Now()
	var results []Result[R]
	err := w.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) (err error) {
		results, err = w.handler(ctx, dbTX, values)
		return err
	})
	if err == nil && len(results) != len(values) {
		log.L(ctx).Errorf("Handler returned %d results for %d values", len(results), len(values))
		err = i18n.NewError(ctx, msgs.MsgFlushWriterInvalidResults)
	}
	if err != nil {
		log.L(ctx).Errorf("Write batch of %d failed: %s", len(values), err)
	} else {
		log.L(ctx).Debugf("Wrote batch of %d in %s", len(values), time.Since(start))
	}
	for i, o := range batch {
		if err != nil {
			o.done <- Result[R]{Err: err}
		} else {
			o.done <- results[i]
		}
	}
}

// Shutdown drains every queue before stopping the workers
func (w *writer[T, R]) Shutdown() {
	for i := range w.queues {
		stop := &op[T, R]{stop: true, done: make(chan Result[R])}
		select {
		case w.queues[i] <- stop:
			<-stop.done
		case <-w.bgCtx.Done():
		}
		<-w.workersDone[i]
	}
	w.cancelCtx()
}

func (w *writer[T, R]) ShutdownNow() {
	w.cancelCtx()
	for _, done := range w.workersDone {
		<-done
	}
}
