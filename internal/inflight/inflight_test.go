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

package inflight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCompleteBeforeWait(t *testing.T) {
	m := NewManager[string]()
	req := m.Add(context.Background(), "notary-1")
	defer req.Cancel()

	assert.Equal(t, "notary-1", req.ID())
	assert.Same(t, req, m.Get("notary-1"))
	assert.Equal(t, 1, m.Count())

	assert.True(t, m.Complete("notary-1", "signed"))
	assert.False(t, m.Complete("unknown", "signed"))

	res, err := req.Wait()
	require.NoError(t, err)
	assert.Equal(t, "signed", res)
	assert.Greater(t, req.Age(), time.Duration(0))
}

func TestRequestDoubleCompleteDoesNotBlock(t *testing.T) {
	m := NewManager[int]()
	req := m.Add(context.Background(), "tx1")
	req.Complete(1)
	req.Complete(2)
	res, err := req.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, res)
}

func TestRequestContextTimeout(t *testing.T) {
	m := NewManager[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := m.Add(ctx, "tx1")
	defer req.Cancel()

	_, err := req.Wait()
	assert.Regexp(t, "OB011701", err)
	assert.ErrorIs(t, req.Err(), context.DeadlineExceeded)
}

func TestCancelRemoves(t *testing.T) {
	m := NewManager[string]()
	req := m.Add(context.Background(), "tx1")
	req.Cancel()
	assert.Nil(t, m.Get("tx1"))
	assert.Equal(t, 0, m.Count())
	_, err := req.Wait()
	assert.Regexp(t, "OB011701", err)
}

func TestSharedWaiters(t *testing.T) {
	m := NewManager[string]()
	req1 := m.Add(context.Background(), "tx1")
	req2 := m.Add(context.Background(), "tx1")
	m.Complete("tx1", "done")
	res, err := req2.Wait()
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	req1.Cancel()
	assert.NotNil(t, m.Get("tx1"))
	req2.Cancel()
	assert.Nil(t, m.Get("tx1"))
}

func TestCloseCancelsAll(t *testing.T) {
	m := NewManager[string]()
	req := m.Add(context.Background(), "tx1")
	m.Close()
	<-req.Done()
	_, err := req.Wait()
	assert.Regexp(t, "OB011701", err)

	late := m.Add(context.Background(), "tx2")
	_, err = late.Wait()
	assert.Regexp(t, "OB011701", err)
}
