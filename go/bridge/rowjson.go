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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqlthink/tdsbridge/go/protocol"
)

// marshalRows encodes one result set as a JSON array of objects. Keys are
// the column names in result order; a plain Go map would shuffle them, so
// the document is built by hand with encoding/json handling the leaves.
func marshalRows(set protocol.ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for ri, row := range set.Rows {
		if len(row) != len(set.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", ri, len(row), len(set.Columns))
		}
		if ri > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for ci, col := range set.Columns {
			if ci > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(col.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			if err := encodeValue(&buf, row[ci], col.TypeName); err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// encodeValue appends the JSON form of one cell, following the fixed type
// mapping: integer types to numbers, decimal/money to numbers unless the
// text would lose precision as a float64, bit to booleans, date/time types
// to ISO-8601 strings, binary to base64, NULL to null, everything else to
// strings.
func encodeValue(buf *bytes.Buffer, v any, typeName string) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}

	switch strings.ToUpper(typeName) {
	case "INT", "BIGINT", "SMALLINT", "TINYINT":
		return writeJSON(buf, v)

	case "BIT":
		switch b := v.(type) {
		case bool:
			return writeJSON(buf, b)
		case int64:
			return writeJSON(buf, b != 0)
		}
		return writeJSON(buf, v)

	case "FLOAT", "REAL":
		return writeJSON(buf, v)

	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		text := stringify(v)
		if f, err := strconv.ParseFloat(text, 64); err == nil && decimalRoundTrips(text, f) {
			buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
			return nil
		}
		// Falling back to the exact server text rather than a rounded
		// float64.
		return writeJSON(buf, text)

	case "DATE", "TIME", "DATETIME", "SMALLDATETIME", "DATETIME2", "DATETIMEOFFSET":
		if ts, ok := v.(time.Time); ok {
			return writeJSON(buf, ts.Format(time.RFC3339Nano))
		}
		return writeJSON(buf, stringify(v))

	case "BINARY", "VARBINARY", "IMAGE", "ROWVERSION":
		if raw, ok := v.([]byte); ok {
			return writeJSON(buf, base64.StdEncoding.EncodeToString(raw))
		}
		return writeJSON(buf, stringify(v))

	default:
		switch t := v.(type) {
		case []byte:
			return writeJSON(buf, string(t))
		case time.Time:
			return writeJSON(buf, t.Format(time.RFC3339Nano))
		default:
			return writeJSON(buf, v)
		}
	}
}

func writeJSON(buf *bytes.Buffer, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// decimalRoundTrips reports whether the decimal text survives a trip
// through float64 unchanged, comparing canonical forms so "1.50" and
// "1.5" count as the same value.
func decimalRoundTrips(text string, f float64) bool {
	return canonDecimal(text) == canonDecimal(strconv.FormatFloat(f, 'f', -1, 64))
}

// canonDecimal normalizes a plain decimal string: sign folded, redundant
// zeros stripped. Inputs with exponents or other surprises are returned
// as-is, which makes the round-trip comparison fail safe (text fallback).
func canonDecimal(s string) string {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if s == "" || strings.ContainsAny(s, "eE") {
		return s
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	fracPart = strings.TrimRight(fracPart, "0")

	if intPart == "" {
		intPart = "0"
	}
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
