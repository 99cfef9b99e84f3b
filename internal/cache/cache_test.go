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

package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

func TestCacheEvictsLeastRecent(t *testing.T) {
	c := NewCache[string, int](&obconf.CacheConfig{Capacity: confutil.P(2)}, &obconf.CacheConfig{Capacity: confutil.P(100)})
	assert.Equal(t, 2, c.Capacity())

	c.Set("alice", 1)
	c.Set("bob", 2)
	_, ok := c.Get("alice")
	assert.True(t, ok)
	c.Set("charlie", 3)

	_, ok = c.Get("bob")
	assert.False(t, ok)
	v, ok := c.Get("charlie")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	c.Delete("charlie")
	_, ok = c.Get("charlie")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("alice")
	assert.False(t, ok)
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := NewCache[string, string](&obconf.CacheConfig{}, &obconf.CacheConfig{Capacity: confutil.P(100)})
	assert.Equal(t, 100, c.Capacity())
}

func TestCacheGetOrLoad(t *testing.T) {
	c := NewCache[string, int](&obconf.CacheConfig{}, &obconf.CacheConfig{Capacity: confutil.P(10)})

	loads := 0
	load := func() (int, bool, error) {
		loads++
		return 42, true, nil
	}
	v, found, err := c.GetOrLoad("alice", load)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, v)
	v, _, _ = c.GetOrLoad("alice", load)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, loads)

	_, found, err = c.GetOrLoad("bob", func() (int, bool, error) { return 0, false, nil })
	assert.NoError(t, err)
	assert.False(t, found)
	_, ok := c.Get("bob")
	assert.False(t, ok)

	_, _, err = c.GetOrLoad("charlie", func() (int, bool, error) { return 0, false, errors.New("pop") })
	assert.Regexp(t, "pop", err)
	_, ok = c.Get("charlie")
	assert.False(t, ok)
}
