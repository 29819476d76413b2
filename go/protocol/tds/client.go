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

// Package tds implements the protocol.Client boundary on top of the
// go-mssqldb driver. The driver owns framing, the authentication handshake,
// TLS negotiation, and cancellation policy.
package tds

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/sqlthink/tdsbridge/go/protocol"
)

// Connector opens TDS sessions through database/sql.
type Connector struct{}

var _ protocol.Connector = Connector{}

// Connect opens a new session and pins a single driver connection to it.
// Pinning matters: isolation level and explicit transactions are session
// state, so every batch of a handle must ride the same physical connection.
func (Connector) Connect(ctx context.Context, cfg *protocol.Config) (protocol.Client, error) {
	db, err := sql.Open("sqlserver", driverURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open driver: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr(), err)
	}

	return &client{db: db, conn: conn}, nil
}

// driverURL converts a parsed connection string into the URL form the
// driver accepts. Unrecognized connection-string keys pass through as
// query parameters unmodified.
func driverURL(cfg *protocol.Config) string {
	query := url.Values{}
	if cfg.Database != "" {
		query.Set("database", cfg.Database)
	}
	if cfg.TrustServerCertificate {
		query.Set("trustservercertificate", "true")
	}
	for key, value := range cfg.Extra {
		query.Set(key, value)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Addr(),
		RawQuery: query.Encode(),
	}
	return u.String()
}

type client struct {
	db   *sql.DB
	conn *sql.Conn
}

// Exec sends the batch on the pinned connection. Batches are sent without
// parameters so the driver transmits them as plain SQL batches rather than
// wrapping them in sp_executesql; SET and BEGIN/COMMIT statements inside a
// batch must apply to the session, not a procedure scope.
func (c *client) Exec(ctx context.Context, batch string) ([]protocol.ResultSet, error) {
	rows, err := c.conn.QueryContext(ctx, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []protocol.ResultSet
	for {
		set, err := readResultSet(rows)
		if err != nil {
			return nil, err
		}
		if set != nil {
			sets = append(sets, *set)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sets, nil
}

// readResultSet drains the current result set. Returns nil for statements
// that produce no columns (DDL, DML without OUTPUT).
func readResultSet(rows *sql.Rows) (*protocol.ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, nil
	}

	set := &protocol.ResultSet{
		Columns: make([]protocol.Column, len(types)),
	}
	for i, ct := range types {
		set.Columns[i] = protocol.Column{
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
		}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		set.Rows = append(set.Rows, values)
	}
	return set, rows.Err()
}

func (c *client) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *client) Close() error {
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
