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

// Package cache is a bounded LRU used for registry lookups, identity certificates and rejected transactions.
package cache

import (
	"sync/atomic"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

// Loader fetches a value missing from the cache. Values that are not found are not cached.
type Loader[V any] func() (v V, found bool, err error)

type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	// GetOrLoad returns the cached value, or loads and caches it
	GetOrLoad(key K, load Loader[V]) (V, bool, error)
	Set(key K, val V)
	Delete(key K)
	Capacity() int
	Clear()
}

type lruCache[K comparable, V any] struct {
	// swapped wholesale by Clear
	current  atomic.Pointer[cacheimpl.Cache[K, V]]
	capacity int
}

func NewCache[K comparable, V any](conf *obconf.CacheConfig, defs *obconf.CacheConfig) Cache[K, V] {
	c := &lruCache[K, V]{
		capacity: confutil.IntMin(conf.Capacity, 1, *defs.Capacity),
	}
	c.Clear()
	return c
}

func (c *lruCache[K, V]) lru() *cacheimpl.Cache[K, V] {
	return c.current.Load()
}

func (c *lruCache[K, V]) Get(key K) (V, bool) {
	return c.lru().Get(key)
}

func (c *lruCache[K, V]) GetOrLoad(key K, load Loader[V]) (V, bool, error) {
	if v, ok := c.lru().Get(key); ok {
		return v, true, nil
	}
	v, found, err := load()
	if err == nil && found {
		c.lru().Set(key, v)
	}
	return v, found, err
}

func (c *lruCache[K, V]) Set(key K, val V) {
	c.lru().Set(key, val)
}

func (c *lruCache[K, V]) Delete(key K) {
	c.lru().Delete(key)
}

func (c *lruCache[K, V]) Clear() {
	c.current.Store(cacheimpl.New(cacheimpl.AsLRU[K, V](lru.WithCapacity(c.capacity))))
}

func (c *lruCache[K, V]) Capacity() int {
	return c.capacity
}
