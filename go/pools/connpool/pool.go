// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package connpool caches authenticated sessions between Disconnect and the
// next Connect with the same connection string, so reconnecting skips the
// TCP dial and the full protocol handshake. The pool is bounded: idle
// handles past the per-key limit or the idle timeout are closed instead of
// kept, and handles that fail a liveness check on the way out are
// discarded so a stale session never reaches the caller.
package connpool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned when operating on a closed pool.
var ErrPoolClosed = errors.New("pool is closed")

// Config bounds the pool.
type Config struct {
	// MaxIdlePerKey is the maximum number of idle handles kept per
	// connection-string key. Zero or negative selects the default.
	MaxIdlePerKey int

	// IdleTimeout is how long a handle may sit idle before it is closed
	// instead of reused. Zero keeps handles indefinitely.
	IdleTimeout time.Duration
}

// DefaultMaxIdlePerKey caps idle handles per key when Config leaves the
// limit unset.
const DefaultMaxIdlePerKey = 4

// Pool maps normalized connection strings to stacks of idle handles.
// Guarded by a single mutex; execution is one call at a time, so there is
// no contention to speak of.
type Pool struct {
	mu     sync.Mutex
	idle   map[string][]*Handle
	cfg    Config
	closed bool
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxIdlePerKey <= 0 {
		cfg.MaxIdlePerKey = DefaultMaxIdlePerKey
	}
	return &Pool{
		idle: make(map[string][]*Handle),
		cfg:  cfg,
	}
}

// Get pops an idle handle for the key, most recently used first. Handles
// past the idle timeout or failing the liveness ping are closed and
// skipped. Returns nil when no usable handle is pooled; the caller then
// opens a fresh connection.
func (p *Pool) Get(ctx context.Context, key string) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	stack := p.idle[key]
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.cfg.IdleTimeout > 0 && h.IdleTime() > p.cfg.IdleTimeout {
			h.client.Close()
			continue
		}
		if err := h.client.Ping(ctx); err != nil {
			h.client.Close()
			continue
		}

		p.storeStack(key, stack)
		h.touch()
		return h
	}

	p.storeStack(key, stack)
	return nil
}

// Put returns a handle to the pool under its own key. Handles over the
// per-key idle limit, past the idle timeout, or offered to a closed pool
// are closed instead.
func (p *Pool) Put(h *Handle) error {
	if h == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		h.client.Close()
		return ErrPoolClosed
	}
	if p.cfg.IdleTimeout > 0 && h.IdleTime() > p.cfg.IdleTimeout {
		h.client.Close()
		return nil
	}
	if len(p.idle[h.key]) >= p.cfg.MaxIdlePerKey {
		h.client.Close()
		return nil
	}

	h.touch()
	p.idle[h.key] = append(p.idle[h.key], h)
	return nil
}

// IdleCount returns the number of idle handles pooled under the key.
func (p *Pool) IdleCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes every idle handle and marks the pool closed. Handles put
// back after Close are closed on arrival.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	for _, stack := range p.idle {
		for _, h := range stack {
			h.client.Close()
		}
	}
	p.idle = nil
	return nil
}

func (p *Pool) storeStack(key string, stack []*Handle) {
	if len(stack) == 0 {
		delete(p.idle, key)
		return
	}
	p.idle[key] = stack
}
