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

// Package faketds provides an in-memory protocol.Client for tests. It
// records every batch it receives and serves scripted results, so tests can
// assert on the exact SQL text the bridge sends without a server.
package faketds

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlthink/tdsbridge/go/protocol"
)

// DB is a fake server shared by every session a Connector opens. The
// zero value is usable.
type DB struct {
	mu sync.Mutex

	// Handler serves any batch that has no scripted result. If nil,
	// unscripted batches succeed with no result sets.
	Handler func(batch string) ([]protocol.ResultSet, error)

	// ConnectErr, when set, fails every subsequent Connect.
	ConnectErr error

	// PingErr, when set, fails Ping on every open session. Used to
	// simulate pooled handles that went stale.
	PingErr error

	queries map[string]scripted
	batches []string

	connects int
	open     int
}

type scripted struct {
	sets []protocol.ResultSet
	err  error
}

// AddQuery scripts the result sets for an exact batch string.
func (db *DB) AddQuery(batch string, sets ...protocol.ResultSet) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.queries == nil {
		db.queries = make(map[string]scripted)
	}
	db.queries[batch] = scripted{sets: sets}
}

// AddRejectedQuery scripts a failure for an exact batch string.
func (db *DB) AddRejectedQuery(batch string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.queries == nil {
		db.queries = make(map[string]scripted)
	}
	db.queries[batch] = scripted{err: err}
}

// Batches returns a copy of every batch executed so far, in order.
func (db *DB) Batches() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.batches))
	copy(out, db.batches)
	return out
}

// LastBatch returns the most recently executed batch, or "".
func (db *DB) LastBatch() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.batches) == 0 {
		return ""
	}
	return db.batches[len(db.batches)-1]
}

// ConnectCount returns how many sessions have been opened, including ones
// since closed. The pool-reuse tests key off this.
func (db *DB) ConnectCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.connects
}

// OpenCount returns how many sessions are currently open.
func (db *DB) OpenCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.open
}

func (db *DB) exec(batch string) ([]protocol.ResultSet, error) {
	db.mu.Lock()
	db.batches = append(db.batches, batch)
	s, ok := db.queries[batch]
	handler := db.Handler
	db.mu.Unlock()

	if ok {
		return s.sets, s.err
	}
	if handler != nil {
		return handler(batch)
	}
	return nil, nil
}

// Connector opens sessions against a fake DB.
type Connector struct {
	DB *DB
}

var _ protocol.Connector = Connector{}

func (c Connector) Connect(ctx context.Context, cfg *protocol.Config) (protocol.Client, error) {
	db := c.DB
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.ConnectErr != nil {
		return nil, db.ConnectErr
	}
	db.connects++
	db.open++
	return &session{db: db}, nil
}

type session struct {
	db     *DB
	closed bool
}

func (s *session) Exec(ctx context.Context, batch string) ([]protocol.ResultSet, error) {
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	return s.db.exec(batch)
}

func (s *session) Ping(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.PingErr
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.db.mu.Lock()
	s.db.open--
	s.db.mu.Unlock()
	return nil
}
