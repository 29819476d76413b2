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

// Package bridge is the synchronous SQL execution core. A Bridge owns the
// single-worker execution queue, the active-connection slot, the
// connection pool, and the trace flag; every exported operation blocks the
// caller until the worker resolves it. There is at most one in-flight
// execution per Bridge: concurrency is serialized by the worker, not by
// locks around the connection.
//
// An explicit transaction left open when the process exits without
// Disconnect is abandoned to the server, which rolls it back when the
// socket closes.
package bridge

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sqlthink/tdsbridge/go/pools/connpool"
	"github.com/sqlthink/tdsbridge/go/protocol"
	"github.com/sqlthink/tdsbridge/go/sberrors"
	"github.com/sqlthink/tdsbridge/go/sqlparse"
)

// Config carries bridge tunables. The zero value is usable.
type Config struct {
	// PoolMaxIdlePerKey bounds idle pooled handles per connection string.
	PoolMaxIdlePerKey int

	// PoolIdleTimeout evicts pooled handles idle longer than this.
	PoolIdleTimeout time.Duration

	// ConnectTimeout bounds the dial plus handshake of a fresh
	// connection. Zero means no deadline beyond the driver's own.
	ConnectTimeout time.Duration

	// Logger receives lifecycle warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bridge is the execution core. Construct with New; a Bridge must not be
// copied. All fields below the executor are owned by the worker goroutine
// and only touched from submitted tasks.
type Bridge struct {
	exec      *executor
	connector protocol.Connector
	pool      *connpool.Pool
	logger    *slog.Logger
	traceLog  *slog.Logger
	trace     atomic.Bool

	connectTimeout time.Duration

	// Worker-owned state.
	active  *connpool.Handle
	txnOpen bool
}

// New creates a bridge driving the given connector. Tests pass a faketds
// connector; production passes tds.Connector{}.
func New(connector protocol.Connector, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		exec:      newExecutor(),
		connector: connector,
		pool: connpool.NewPool(connpool.Config{
			MaxIdlePerKey: cfg.PoolMaxIdlePerKey,
			IdleTimeout:   cfg.PoolIdleTimeout,
		}),
		logger: logger,
		traceLog: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
		connectTimeout: cfg.ConnectTimeout,
	}
}

// EnableTrace turns on statement tracing to standard error.
func (b *Bridge) EnableTrace() {
	b.trace.Store(true)
	b.traceLog.Info("trace enabled")
}

// DisableTrace turns statement tracing off.
func (b *Bridge) DisableTrace() {
	b.traceLog.Info("trace disabled")
	b.trace.Store(false)
}

func (b *Bridge) tracef(msg string, args ...any) {
	if b.trace.Load() {
		b.traceLog.Debug(msg, args...)
	}
}

// Connect parses the connection string and fills the active-connection
// slot, reusing a pooled session for the same normalized string when one
// is available. An already-active connection is returned to the pool
// first, as if Disconnect had been called.
func (b *Bridge) Connect(connString string) error {
	cfg, err := protocol.ParseConnString(connString)
	if err != nil {
		return sberrors.Errorf(sberrors.CodeConnection, "failed to parse connection string: %w", err)
	}
	key := cfg.Normalize()

	return b.exec.submit(func() error {
		if b.active != nil {
			b.releaseActive()
		}

		ctx, cancel := b.connectCtx()
		defer cancel()

		if h := b.pool.Get(ctx, key); h != nil {
			b.tracef("pool hit, reusing pooled connection", "server", cfg.Addr())
			b.active = h
			return nil
		}

		b.tracef("pool miss, opening new connection", "server", cfg.Addr())
		client, err := b.connector.Connect(ctx, cfg)
		if err != nil {
			// A failed connection never reaches the active slot.
			return sberrors.Wrap(sberrors.CodeConnection, err)
		}
		b.active = connpool.NewHandle(client, key)
		return nil
	})
}

// Disconnect returns the active connection to the pool. Calling it with no
// active connection is a no-op. An open explicit transaction is rolled
// back first so a pooled session never carries one.
func (b *Bridge) Disconnect() {
	b.exec.submit(func() error { //nolint:errcheck // disconnect reports nothing
		b.releaseActive()
		return nil
	})
}

// releaseActive is worker-owned.
func (b *Bridge) releaseActive() {
	if b.active == nil {
		return
	}
	if b.txnOpen {
		b.tracef("rolling back open transaction before disconnect")
		if _, err := b.active.Client().Exec(context.Background(), "ROLLBACK TRANSACTION"); err != nil {
			b.logger.Warn("rollback before disconnect failed; dropping connection",
				"error", err)
			b.active.Client().Close()
			b.active = nil
			b.txnOpen = false
			return
		}
		b.txnOpen = false
	}
	b.tracef("returning connection to pool")
	b.pool.Put(b.active)
	b.active = nil
}

// Execute preprocesses and runs one SQL batch on the active connection.
// Row-returning statements yield a JSON document; non-row-returning
// statements yield a nil payload, the "no result" sentinel.
func (b *Bridge) Execute(sql string) ([]byte, error) {
	var payload []byte
	err := b.exec.submit(func() error {
		if b.active == nil {
			return sberrors.New(sberrors.CodeConnection, "no active connection: call Connect first")
		}

		processed, class := sqlparse.Preprocess(sql, b.txnOpen)
		callID := uuid.NewString()
		b.tracef("executing statement", "call_id", callID, "class", class.String(), "sql", sql)
		if processed != sql {
			b.tracef("preprocessed statement", "call_id", callID, "sql", processed)
		}

		sets, err := b.active.Client().Exec(context.Background(), processed)
		if err != nil {
			// The connection stays active; execution errors do not
			// invalidate the session.
			return sberrors.Wrap(sberrors.CodeExecution, err)
		}

		if class == sqlparse.RowReturning {
			set := firstResultSet(sets)
			out, err := marshalRows(set)
			if err != nil {
				return sberrors.Wrap(sberrors.CodeExecution, err)
			}
			b.tracef("statement returned rows", "call_id", callID, "rows", len(set.Rows))
			payload = out
			return nil
		}

		b.tracef("statement completed", "call_id", callID, "result_sets", len(sets))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// firstResultSet picks the set to marshal: the first one carrying
// columns. The snapshot wrapper's SET/BEGIN/COMMIT statements produce
// none, so this is the original statement's output. Result sets beyond
// the first are not merged. A batch yielding no sets marshals as [].
func firstResultSet(sets []protocol.ResultSet) protocol.ResultSet {
	for _, set := range sets {
		if len(set.Columns) > 0 {
			return set
		}
	}
	return protocol.ResultSet{}
}

// Begin opens an explicit transaction on the active connection. Nesting is
// rejected.
func (b *Bridge) Begin() error {
	return b.exec.submit(func() error {
		if b.active == nil {
			return sberrors.New(sberrors.CodeConnection, "no active connection: call Connect first")
		}
		if b.txnOpen {
			return sberrors.New(sberrors.CodeTransaction, "transaction already open")
		}
		b.tracef("beginning explicit transaction")
		if _, err := b.active.Client().Exec(context.Background(), "BEGIN TRANSACTION"); err != nil {
			return sberrors.Wrap(sberrors.CodeExecution, err)
		}
		b.txnOpen = true
		return nil
	})
}

// Commit commits the explicit transaction. On a wire failure the
// transaction is considered still open so the caller can roll back.
func (b *Bridge) Commit() error {
	return b.exec.submit(func() error {
		if b.active == nil {
			return sberrors.New(sberrors.CodeConnection, "no active connection: call Connect first")
		}
		if !b.txnOpen {
			return sberrors.New(sberrors.CodeTransaction, "no active transaction")
		}
		b.tracef("committing explicit transaction")
		if _, err := b.active.Client().Exec(context.Background(), "COMMIT TRANSACTION"); err != nil {
			return sberrors.Wrap(sberrors.CodeExecution, err)
		}
		b.txnOpen = false
		return nil
	})
}

// Rollback aborts the explicit transaction.
func (b *Bridge) Rollback() error {
	return b.exec.submit(func() error {
		if b.active == nil {
			return sberrors.New(sberrors.CodeConnection, "no active connection: call Connect first")
		}
		if !b.txnOpen {
			return sberrors.New(sberrors.CodeTransaction, "no active transaction")
		}
		b.tracef("rolling back explicit transaction")
		if _, err := b.active.Client().Exec(context.Background(), "ROLLBACK TRANSACTION"); err != nil {
			return sberrors.Wrap(sberrors.CodeExecution, err)
		}
		b.txnOpen = false
		return nil
	})
}

// InTransaction reports whether an explicit transaction is open.
func (b *Bridge) InTransaction() bool {
	open := false
	b.exec.submit(func() error { //nolint:errcheck // read-only probe
		open = b.txnOpen
		return nil
	})
	return open
}

// Close releases the active connection, the pool, and the worker. The
// bridge is unusable afterwards.
func (b *Bridge) Close() {
	b.exec.submit(func() error { //nolint:errcheck // best-effort teardown
		b.releaseActive()
		return nil
	})
	b.exec.close()
	b.pool.Close()
}

func (b *Bridge) connectCtx() (context.Context, context.CancelFunc) {
	if b.connectTimeout > 0 {
		return context.WithTimeout(context.Background(), b.connectTimeout)
	}
	return context.WithCancel(context.Background())
}
