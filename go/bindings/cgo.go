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

// The bindings package is the C calling surface of the library, built with
//
//	go build -buildmode=c-shared -o libtdsbridge.so ./go/bindings
//
// Conventions at the boundary: entry points return NULL on success (or on
// functions with nothing to return) and a C string on output or failure;
// failures carry the "ERROR: " prefix. Every non-NULL returned pointer is
// owned by the caller and must be released with FreeCString exactly once.
// Hosts calling from multiple threads must serialize the calls themselves;
// there is one active connection per process.
//
// The bridge behind these functions is created on first use and configured
// from TDSBRIDGE_* environment variables, since a loaded library has no
// command line.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/sqlthink/tdsbridge/go/bridge"
	"github.com/sqlthink/tdsbridge/go/bridgeconfig"
	"github.com/sqlthink/tdsbridge/go/protocol/tds"
)

var (
	bridgeOnce   sync.Once
	globalBridge *bridge.Bridge
)

func getBridge() *bridge.Bridge {
	bridgeOnce.Do(func() {
		loader := bridgeconfig.New()
		cfg := loader.BridgeConfig()
		cfg.Logger = loader.NewLogger()
		globalBridge = bridge.New(tds.Connector{}, cfg)
		if loader.Trace() {
			globalBridge.EnableTrace()
		}
	})
	return globalBridge
}

func errorString(err error) *C.char {
	return C.CString("ERROR: " + err.Error())
}

// ConnectDb opens (or reuses from the pool) a connection for the given
// ADO-style connection string and makes it the active connection. Returns
// NULL on success, an error string otherwise.
//
//export ConnectDb
func ConnectDb(connString *C.char) *C.char {
	if connString == nil {
		return C.CString("ERROR: connection string is null")
	}
	if err := getBridge().Connect(C.GoString(connString)); err != nil {
		return errorString(err)
	}
	return nil
}

// DisconnectDb returns the active connection to the pool. A call with no
// active connection is a no-op.
//
//export DisconnectDb
func DisconnectDb() {
	getBridge().Disconnect()
}

// ExecuteSql runs one SQL batch on the active connection. Row-returning
// statements yield a JSON array of row objects; other statements yield
// NULL on success. Failures yield an error string.
//
//export ExecuteSql
func ExecuteSql(sql *C.char) *C.char {
	if sql == nil {
		return C.CString("ERROR: SQL input is null")
	}
	out, err := getBridge().Execute(C.GoString(sql))
	if err != nil {
		return errorString(err)
	}
	if out == nil {
		return nil
	}
	return C.CString(string(out))
}

// BeginTransaction opens an explicit transaction on the active connection.
// Returns NULL on success.
//
//export BeginTransaction
func BeginTransaction() *C.char {
	if err := getBridge().Begin(); err != nil {
		return errorString(err)
	}
	return nil
}

// CommitTransaction commits the explicit transaction. Returns NULL on
// success.
//
//export CommitTransaction
func CommitTransaction() *C.char {
	if err := getBridge().Commit(); err != nil {
		return errorString(err)
	}
	return nil
}

// RollbackTransaction aborts the explicit transaction. Returns NULL on
// success.
//
//export RollbackTransaction
func RollbackTransaction() *C.char {
	if err := getBridge().Rollback(); err != nil {
		return errorString(err)
	}
	return nil
}

// FreeCString releases a string returned by any other entry point. Safe to
// call with NULL.
//
//export FreeCString
func FreeCString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

// EnableTrace turns on statement tracing to standard error.
//
//export EnableTrace
func EnableTrace() {
	getBridge().EnableTrace()
}

// DisableTrace turns statement tracing off.
//
//export DisableTrace
func DisableTrace() {
	getBridge().DisableTrace()
}

func main() {}
