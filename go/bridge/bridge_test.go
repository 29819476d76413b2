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

package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sqlthink/tdsbridge/go/protocol"
	"github.com/sqlthink/tdsbridge/go/protocol/faketds"
	"github.com/sqlthink/tdsbridge/go/sberrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testConnString = "server=localhost;user id=sa;password=secret;database=app"

func newTestBridge(t *testing.T, db *faketds.DB) *Bridge {
	t.Helper()
	b := New(faketds.Connector{DB: db}, Config{})
	t.Cleanup(b.Close)
	return b
}

// wrapped mirrors the snapshot wrapper applied to row-returning statements
// executed outside an explicit transaction.
func wrapped(sql string) string {
	return "SET TRANSACTION ISOLATION LEVEL SNAPSHOT; BEGIN TRANSACTION; " + sql + "\n; COMMIT TRANSACTION"
}

func TestExecuteWithoutConnect(t *testing.T) {
	b := newTestBridge(t, &faketds.DB{})

	_, err := b.Execute("SELECT 1")
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeConnection, sberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no active connection")
}

func TestConnectBadString(t *testing.T) {
	b := newTestBridge(t, &faketds.DB{})

	err := b.Connect("user id=sa;password=x")
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeConnection, sberrors.CodeOf(err))
}

func TestConnectFailure(t *testing.T) {
	db := &faketds.DB{ConnectErr: fmt.Errorf("handshake refused")}
	b := newTestBridge(t, db)

	err := b.Connect(testConnString)
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeConnection, sberrors.CodeOf(err))

	// The failed attempt must not leave a half-open active connection.
	_, err = b.Execute("SELECT 1")
	assert.Equal(t, sberrors.CodeConnection, sberrors.CodeOf(err))
}

func TestSessionReuseAcrossDisconnect(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)

	require.NoError(t, b.Connect(testConnString))
	b.Disconnect()
	require.NoError(t, b.Connect(testConnString))

	// The second Connect reused the pooled session.
	assert.Equal(t, 1, db.ConnectCount())
}

func TestDistinctConnStringsGetDistinctSessions(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)

	require.NoError(t, b.Connect(testConnString))
	b.Disconnect()
	require.NoError(t, b.Connect("server=localhost;user id=sa;password=secret;database=other"))

	assert.Equal(t, 2, db.ConnectCount())
}

func TestConnStringNormalizationSharesPool(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)

	require.NoError(t, b.Connect(testConnString))
	b.Disconnect()

	// Same settings, different casing, order and whitespace.
	require.NoError(t, b.Connect("Database=app; PWD=secret ;UID=sa;SERVER=localhost"))
	assert.Equal(t, 1, db.ConnectCount())
}

func TestConnectReplacesActiveConnection(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)

	require.NoError(t, b.Connect(testConnString))
	require.NoError(t, b.Connect(testConnString))

	// The first session went back to the pool and came out again.
	assert.Equal(t, 1, db.ConnectCount())
	assert.Equal(t, 1, db.OpenCount())
}

func TestSnapshotWrapOutsideTransaction(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	_, err := b.Execute("SELECT * FROM Users")
	require.NoError(t, err)
	assert.Equal(t, wrapped("SELECT * FROM Users"), db.LastBatch())
}

func TestNoWrapInsideTransaction(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))
	require.NoError(t, b.Begin())

	_, err := b.Execute("SELECT * FROM Users")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM Users", db.LastBatch())

	require.NoError(t, b.Commit())
}

func TestNonRowStatementsNotWrapped(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("UPDATE Users SET Name = 'B' WHERE ID = 1")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "UPDATE Users SET Name = 'B' WHERE ID = 1", db.LastBatch())
}

func TestCreateTableGetsInjectedKey(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("CREATE TABLE Users (Name NVARCHAR(50))")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "CREATE TABLE Users (ID INT PRIMARY KEY IDENTITY(1,1), Name NVARCHAR(50))", db.LastBatch())
}

func TestExecuteRowsAsJSON(t *testing.T) {
	db := &faketds.DB{}
	db.AddQuery(wrapped("SELECT ID, Name FROM Users"), protocol.ResultSet{
		Columns: []protocol.Column{{Name: "ID", TypeName: "INT"}, {Name: "Name", TypeName: "NVARCHAR"}},
		Rows: [][]any{
			{int64(1), "Ada"},
			{int64(2), nil},
		},
	})

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("SELECT ID, Name FROM Users")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ID":1,"Name":"Ada"},{"ID":2,"Name":null}]`, string(out))
}

func TestExecuteRowsEmptyBatch(t *testing.T) {
	// A row-returning statement whose batch produces no result sets still
	// yields a document, the empty array.
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("SELECT * FROM Empty")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestExecuteSkipsColumnlessResultSets(t *testing.T) {
	// The wrapper statements can surface empty result sets ahead of the
	// real one; marshaling must pick the set that carries columns.
	db := &faketds.DB{}
	db.AddQuery(wrapped("SELECT ID FROM T"),
		protocol.ResultSet{},
		protocol.ResultSet{
			Columns: []protocol.Column{{Name: "ID", TypeName: "INT"}},
			Rows:    [][]any{{int64(7)}},
		},
	)

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("SELECT ID FROM T")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ID":7}]`, string(out))
}

func TestExecutionErrorKeepsConnection(t *testing.T) {
	db := &faketds.DB{}
	db.AddRejectedQuery("DROP TABLE Nope", fmt.Errorf("invalid object name 'Nope'"))

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	_, err := b.Execute("DROP TABLE Nope")
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeExecution, sberrors.CodeOf(err))

	// The session survives the failed statement.
	_, err = b.Execute("DROP TABLE Yep")
	require.NoError(t, err)
	assert.Equal(t, 1, db.ConnectCount())
}

func TestTransactionStateMachine(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	// No transaction yet.
	assert.False(t, b.InTransaction())
	err := b.Commit()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeTransaction, sberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no active transaction")

	require.NoError(t, b.Begin())
	assert.True(t, b.InTransaction())
	assert.Equal(t, "BEGIN TRANSACTION", db.LastBatch())

	// Nested begin is rejected without touching the wire.
	err = b.Begin()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeTransaction, sberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "transaction already open")

	require.NoError(t, b.Commit())
	assert.False(t, b.InTransaction())
	assert.Equal(t, "COMMIT TRANSACTION", db.LastBatch())

	// The commit closed the transaction; a second one has nothing to do.
	err = b.Commit()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeTransaction, sberrors.CodeOf(err))
}

func TestRollback(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	err := b.Rollback()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeTransaction, sberrors.CodeOf(err))

	require.NoError(t, b.Begin())
	require.NoError(t, b.Rollback())
	assert.False(t, b.InTransaction())
	assert.Equal(t, "ROLLBACK TRANSACTION", db.LastBatch())
}

func TestBeginFailureLeavesNoTransaction(t *testing.T) {
	db := &faketds.DB{}
	db.AddRejectedQuery("BEGIN TRANSACTION", fmt.Errorf("server unavailable"))

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	err := b.Begin()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeExecution, sberrors.CodeOf(err))
	assert.False(t, b.InTransaction())
}

func TestCommitFailureKeepsTransactionOpen(t *testing.T) {
	db := &faketds.DB{}
	db.AddRejectedQuery("COMMIT TRANSACTION", fmt.Errorf("deadlock victim"))

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))
	require.NoError(t, b.Begin())

	err := b.Commit()
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeExecution, sberrors.CodeOf(err))

	// Still open, so the caller can roll back.
	assert.True(t, b.InTransaction())
	require.NoError(t, b.Rollback())
}

func TestDisconnectRollsBackOpenTransaction(t *testing.T) {
	db := &faketds.DB{}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))
	require.NoError(t, b.Begin())

	b.Disconnect()
	assert.Equal(t, "ROLLBACK TRANSACTION", db.LastBatch())

	// The pooled session starts clean on reuse.
	require.NoError(t, b.Connect(testConnString))
	assert.Equal(t, 1, db.ConnectCount())
	assert.False(t, b.InTransaction())
}

func TestDisconnectWithoutConnect(t *testing.T) {
	b := newTestBridge(t, &faketds.DB{})
	b.Disconnect() // no-op
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	db := &faketds.DB{
		Handler: func(batch string) ([]protocol.ResultSet, error) {
			panic("handler exploded")
		},
	}
	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	_, err := b.Execute("SELECT 1")
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeInternal, sberrors.CodeOf(err))
	assert.Contains(t, err.Error(), "handler exploded")

	// The worker survives the panic and keeps serving.
	db.Handler = nil
	_, err = b.Execute("UPDATE T SET X = 1")
	require.NoError(t, err)
}

func TestEndToEnd(t *testing.T) {
	// A scripted session covering the common host sequence: create, insert,
	// query, disconnect.
	db := &faketds.DB{}
	db.AddQuery(wrapped("SELECT ID, Name FROM People"), protocol.ResultSet{
		Columns: []protocol.Column{{Name: "ID", TypeName: "INT"}, {Name: "Name", TypeName: "NVARCHAR"}},
		Rows:    [][]any{{int64(1), "A"}},
	})

	b := newTestBridge(t, db)
	require.NoError(t, b.Connect(testConnString))

	out, err := b.Execute("CREATE TABLE People (Name NVARCHAR(50))")
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = b.Execute("INSERT INTO People (Name) VALUES ('A')")
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = b.Execute("SELECT ID, Name FROM People")
	require.NoError(t, err)
	assert.Equal(t, `[{"ID":1,"Name":"A"}]`, string(out))

	b.Disconnect()
	assert.Equal(t, []string{
		"CREATE TABLE People (ID INT PRIMARY KEY IDENTITY(1,1), Name NVARCHAR(50))",
		"INSERT INTO People (Name) VALUES ('A')",
		wrapped("SELECT ID, Name FROM People"),
	}, db.Batches())
}

func TestCloseReleasesEverything(t *testing.T) {
	db := &faketds.DB{}
	b := New(faketds.Connector{DB: db}, Config{})
	require.NoError(t, b.Connect(testConnString))

	b.Close()
	assert.Equal(t, 0, db.OpenCount())

	// Operations after Close fail instead of hanging.
	_, err := b.Execute("SELECT 1")
	require.Error(t, err)
	assert.Equal(t, sberrors.CodeInternal, sberrors.CodeOf(err))
}
