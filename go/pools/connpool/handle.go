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

package connpool

import (
	"time"

	"github.com/sqlthink/tdsbridge/go/protocol"
)

// Handle wraps one authenticated session together with the pool key it was
// created under. A handle is owned either by the pool (idle) or by the
// active-connection slot of a bridge (in use), never both.
type Handle struct {
	client protocol.Client
	key    string

	createdAt  time.Time
	lastUsedAt time.Time
}

// NewHandle wraps a freshly connected session under the given pool key.
func NewHandle(client protocol.Client, key string) *Handle {
	now := time.Now()
	return &Handle{
		client:     client,
		key:        key,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// Client returns the underlying session.
func (h *Handle) Client() protocol.Client {
	return h.client
}

// Key returns the normalized connection string this handle was opened with.
func (h *Handle) Key() string {
	return h.key
}

// Age returns the duration since the session was opened.
func (h *Handle) Age() time.Duration {
	return time.Since(h.createdAt)
}

// IdleTime returns the duration since the handle last changed hands.
func (h *Handle) IdleTime() time.Duration {
	return time.Since(h.lastUsedAt)
}

// touch updates the last-used timestamp. Called by the pool on Get and Put.
func (h *Handle) touch() {
	h.lastUsedAt = time.Now()
}
