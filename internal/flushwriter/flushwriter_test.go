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

package flushwriter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"github.com/suweicong/obligation-cordapp/pkg/persistence/mockpersistence"
)

type testCheckpoint struct {
	id string
}

func (tc *testCheckpoint) WriteKey() string {
	return tc.id
}

var testDefaults = &obconf.FlushWriterConfig{
	WorkerCount:  confutil.P(1),
	BatchTimeout: confutil.P("100m"),
	BatchMaxSize: confutil.P(10),
}

func newTestWriter(t *testing.T, conf *obconf.FlushWriterConfig, handler BatchHandler[*testCheckpoint, string]) (context.Context, Writer[*testCheckpoint, string], sqlmock.Sqlmock, func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	mp, err := mockpersistence.NewSQLMockProvider()
	require.NoError(t, err)
	w := NewWriter(ctx, "checkpoints", handler, mp.P, conf, testDefaults)
	w.Start()
	return ctx, w, mp.Mock, func() {
		w.Shutdown()
		assert.NoError(t, mp.Mock.ExpectationsWereMet())
		cancelCtx()
	}
}

func echoHandler(ctx context.Context, dbTX persistence.DBTX, values []*testCheckpoint) ([]Result[string], error) {
	results := make([]Result[string], len(values))
	for i, v := range values {
		results[i] = Result[string]{R: "wrote_" + v.id}
	}
	return results, nil
}

func TestFlushOnMaxSize(t *testing.T) {
	var batchSizes []int
	ctx, w, mock, done := newTestWriter(t, &obconf.FlushWriterConfig{BatchMaxSize: confutil.P(5)},
		func(ctx context.Context, dbTX persistence.DBTX, values []*testCheckpoint) ([]Result[string], error) {
			batchSizes = append(batchSizes, len(values))
			return echoHandler(ctx, dbTX, values)
		})
	defer done()
	mock.ExpectBegin()
	mock.ExpectCommit()

	ops := make([]Operation[string], 5)
	for i := range ops {
		ops[i] = w.Queue(ctx, &testCheckpoint{id: fmt.Sprintf("neg_%d", i)})
	}
	for i, o := range ops {
		r, err := o.WaitFlushed(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("wrote_neg_%d", i), r)
	}
	assert.Equal(t, []int{5}, batchSizes)
}

func TestFlushImmediate(t *testing.T) {
	ctx, w, mock, done := newTestWriter(t, &obconf.FlushWriterConfig{}, echoHandler)
	defer done()
	mock.ExpectBegin()
	mock.ExpectCommit()

	r, err := w.QueueWithFlush(ctx, &testCheckpoint{id: "neg_a"}).WaitFlushed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wrote_neg_a", r)
}

func TestFlushOnTimeout(t *testing.T) {
	ctx, w, mock, done := newTestWriter(t, &obconf.FlushWriterConfig{BatchTimeout: confutil.P("1ms")}, echoHandler)
	defer done()
	mock.ExpectBegin()
	mock.ExpectCommit()

	r, err := w.Queue(ctx, &testCheckpoint{id: "neg_a"}).WaitFlushed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wrote_neg_a", r)
}

func TestBatchErrorFailsAll(t *testing.T) {
	ctx, w, mock, done := newTestWriter(t, &obconf.FlushWriterConfig{BatchMaxSize: confutil.P(2)},
		func(ctx context.Context, dbTX persistence.DBTX, values []*testCheckpoint) ([]Result[string], error) {
			return nil, fmt.Errorf("pop")
		})
	defer done()
	mock.ExpectBegin()
	mock.ExpectRollback()

	op1 := w.Queue(ctx, &testCheckpoint{id: "neg_a"})
	op2 := w.Queue(ctx, &testCheckpoint{id: "neg_b"})
	_, err := op1.WaitFlushed(ctx)
	assert.Regexp(t, "pop", err)
	_, err = op2.WaitFlushed(ctx)
	assert.Regexp(t, "pop", err)
}

func TestBadResultCount(t *testing.T) {
	ctx, w, mock, done := newTestWriter(t, &obconf.FlushWriterConfig{},
		func(ctx context.Context, dbTX persistence.DBTX, values []*testCheckpoint) ([]Result[string], error) {
			return []Result[string]{}, nil
		})
	defer done()
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := w.QueueWithFlush(ctx, &testCheckpoint{id: "neg_a"}).WaitFlushed(ctx)
	assert.Regexp(t, "OB011704", err)
}

func TestMissingWriteKey(t *testing.T) {
	ctx, w, _, done := newTestWriter(t, &obconf.FlushWriterConfig{}, echoHandler)
	defer done()
	_, err := w.Queue(ctx, &testCheckpoint{}).WaitFlushed(ctx)
	assert.Regexp(t, "OB011703", err)
}

func TestWaitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &op[*testCheckpoint, string]{done: make(chan Result[string], 1)}
	_, err := o.WaitFlushed(ctx)
	assert.Regexp(t, "OB011700", err)
}

func TestQueueAfterShutdownNow(t *testing.T) {
	mp, err := mockpersistence.NewSQLMockProvider()
	require.NoError(t, err)
	ctx := context.Background()
	w := NewWriter(ctx, "checkpoints", echoHandler, mp.P, &obconf.FlushWriterConfig{BatchMaxSize: confutil.P(1)}, testDefaults)
	w.Start()
	w.ShutdownNow()

	// the queue is buffered, so fill it before the quiescing path is reachable
	var last Operation[string]
	for i := 0; i < 3; i++ {
		last = w.Queue(ctx, &testCheckpoint{id: "neg_a"})
	}
	wctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = last.WaitFlushed(wctx)
	assert.Regexp(t, "OB01170[02]", err)
}
