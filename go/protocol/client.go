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

// Package protocol defines the boundary to the tabular-data-stream client.
// The wire protocol itself (framing, authentication handshake, TLS) is owned
// by the underlying driver and is never reimplemented on this side of the
// boundary.
package protocol

import "context"

// Column describes one column of a result set, in result order.
type Column struct {
	// Name is the column name as reported by the server.
	Name string

	// TypeName is the server-side type name (e.g. "INT", "NVARCHAR", "BIT").
	// It drives the JSON type mapping in the result marshaler.
	TypeName string
}

// ResultSet is one tabular result produced by a batch. Rows hold driver
// values: int64, float64, bool, string, []byte, time.Time, or nil.
type ResultSet struct {
	Columns []Column
	Rows    [][]any
}

// Client is one authenticated session against the server. Implementations
// are not required to be safe for concurrent use; the execution bridge
// serializes all calls.
type Client interface {
	// Exec sends a batch (one or more statements in a single round trip) and
	// returns every result set it produced, in order. A batch of only
	// non-row-returning statements yields an empty slice.
	Exec(ctx context.Context, batch string) ([]ResultSet, error)

	// Ping verifies the session is still usable.
	Ping(ctx context.Context) error

	// Close tears down the session.
	Close() error
}

// Connector opens new authenticated sessions. The real implementation lives
// in protocol/tds; tests use protocol/faketds.
type Connector interface {
	Connect(ctx context.Context, cfg *Config) (Client, error)
}
