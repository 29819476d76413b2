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

// Package sqlparse classifies and rewrites SQL batches before they are sent
// to the server. It is a lexical scanner, not a grammar parser: it skips
// comments, string literals, and bracketed identifiers, and matches keywords
// case-insensitively. Preprocessing is a pure function of the SQL text and
// the transaction state.
package sqlparse

import "strings"

// StatementClass is the derived classification of a batch.
type StatementClass int

const (
	// NonRowReturning covers DML, DDL other than CREATE TABLE, and
	// anything else that produces no result set to return.
	NonRowReturning StatementClass = iota

	// RowReturning covers a leading SELECT, DECLARE...SELECT batches, and
	// WITH (CTE) batches with a terminal SELECT.
	RowReturning

	// CreateTable marks a CREATE TABLE statement, which may need a
	// primary-key column injected.
	CreateTable
)

func (c StatementClass) String() string {
	switch c {
	case RowReturning:
		return "row-returning"
	case CreateTable:
		return "create-table"
	default:
		return "non-row-returning"
	}
}

// injectedKey is the surrogate-key column added to CREATE TABLE statements
// that declare no key of their own.
const injectedKey = "ID INT PRIMARY KEY IDENTITY(1,1), "

// Classify determines the statement class of a batch by inspecting its
// leading keyword, ignoring comments and whitespace.
func Classify(sql string) StatementClass {
	first, rest := firstWord(sql)
	switch first {
	case "SELECT":
		return RowReturning
	case "WITH", "DECLARE":
		// One or more CTE definitions or variable declarations followed
		// by a SELECT whose result is returned. Without the SELECT the
		// batch produces no rows.
		if containsWord(rest, "SELECT") {
			return RowReturning
		}
		return NonRowReturning
	case "CREATE":
		second, _ := firstWord(rest)
		if second == "TABLE" {
			return CreateTable
		}
		return NonRowReturning
	default:
		return NonRowReturning
	}
}

// Preprocess transforms a batch according to the current transaction state.
// CREATE TABLE statements get a surrogate key injected when they declare
// none. Row-returning statements outside an explicit transaction are
// wrapped in a single snapshot-isolation batch; inside one they pass
// through untouched, so they read the transaction's own writes.
func Preprocess(sql string, inExplicitTxn bool) (string, StatementClass) {
	class := Classify(sql)
	switch class {
	case CreateTable:
		return InjectPrimaryKey(sql), class
	case RowReturning:
		if inExplicitTxn {
			return sql, class
		}
		return WrapSnapshot(sql), class
	default:
		return sql, class
	}
}

// InjectPrimaryKey adds a leading identity primary-key column to a CREATE
// TABLE statement, unless the table already declares a PRIMARY KEY or an
// IDENTITY column. The column list is located lexically by the first
// opening parenthesis outside comments and literals.
func InjectPrimaryKey(sql string) string {
	if containsWord(sql, "PRIMARY") || containsWord(sql, "IDENTITY") {
		return sql
	}

	for i := 0; i < len(sql); {
		next := skipNonCode(sql, i)
		if next != i {
			i = next
			continue
		}
		if sql[i] == '(' {
			return sql[:i+1] + injectedKey + sql[i+1:]
		}
		i++
	}
	return sql
}

// WrapSnapshot wraps a row-returning statement in a single textual batch
// that sets snapshot isolation, begins, runs the original text, and
// commits. One round trip; the session isolation level is scoped by the
// surrounding transaction. The commit goes on its own line so a trailing
// line comment in the original text cannot swallow it.
func WrapSnapshot(sql string) string {
	return "SET TRANSACTION ISOLATION LEVEL SNAPSHOT; BEGIN TRANSACTION; " +
		strings.TrimSpace(sql) + "\n; COMMIT TRANSACTION"
}

// skipNonCode returns the index just past any comment or literal starting
// at i, or i itself when position i is plain code. Block comments nest, as
// they do on the server.
func skipNonCode(sql string, i int) int {
	switch {
	case strings.HasPrefix(sql[i:], "--"):
		if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
			return i + nl + 1
		}
		return len(sql)
	case strings.HasPrefix(sql[i:], "/*"):
		depth := 1
		j := i + 2
		for j < len(sql) && depth > 0 {
			switch {
			case strings.HasPrefix(sql[j:], "/*"):
				depth++
				j += 2
			case strings.HasPrefix(sql[j:], "*/"):
				depth--
				j += 2
			default:
				j++
			}
		}
		return j
	case sql[i] == '\'':
		return skipQuoted(sql, i, '\'')
	case sql[i] == '"':
		return skipQuoted(sql, i, '"')
	case sql[i] == '[':
		if end := strings.IndexByte(sql[i:], ']'); end >= 0 {
			return i + end + 1
		}
		return len(sql)
	}
	return i
}

// skipQuoted skips a quoted literal starting at i, honoring doubled-quote
// escapes ('it''s').
func skipQuoted(sql string, i int, quote byte) int {
	j := i + 1
	for j < len(sql) {
		if sql[j] == quote {
			if j+1 < len(sql) && sql[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(sql)
}

func isWordByte(b byte) bool {
	return b == '_' || b == '#' || b == '@' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		b >= 0x80
}

// firstWord returns the first keyword-like token of the batch, upper-cased,
// and the remainder of the text after it. Comments and whitespace before
// the token are skipped.
func firstWord(sql string) (string, string) {
	i := 0
	for i < len(sql) {
		next := skipNonCode(sql, i)
		if next != i {
			i = next
			continue
		}
		if sql[i] == ' ' || sql[i] == '\t' || sql[i] == '\n' || sql[i] == '\r' || sql[i] == ';' {
			i++
			continue
		}
		break
	}

	start := i
	for i < len(sql) && isWordByte(sql[i]) {
		i++
	}
	return strings.ToUpper(sql[start:i]), sql[i:]
}

// containsWord reports whether the keyword occurs as a whole word anywhere
// in the code portions of the batch (not inside comments or literals).
func containsWord(sql, word string) bool {
	for i := 0; i < len(sql); {
		next := skipNonCode(sql, i)
		if next != i {
			i = next
			continue
		}
		if !isWordByte(sql[i]) {
			i++
			continue
		}
		start := i
		for i < len(sql) && isWordByte(sql[i]) {
			i++
		}
		if strings.EqualFold(sql[start:i], word) {
			return true
		}
	}
	return false
}
