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

package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is the conventional TDS listener port.
const DefaultPort = 1433

// Config holds the parsed form of an ADO-style connection string
// ("server=localhost;user id=sa;password=secret;database=mydb").
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// TrustServerCertificate disables certificate validation during the
	// TLS handshake performed by the driver.
	TrustServerCertificate bool

	// Extra carries every key the parser does not recognize, unmodified,
	// so it can be passed through to the driver.
	Extra map[string]string
}

// ParseConnString parses an ADO-style connection string. Keys are matched
// case-insensitively; key/value pairs are separated by semicolons. Known
// aliases: server/host, user id/uid/user, password/pwd, database/initial
// catalog. Unrecognized keys are kept in Extra and passed through to the
// driver unmodified.
func ParseConnString(connString string) (*Config, error) {
	cfg := &Config{
		Port:  DefaultPort,
		Extra: make(map[string]string),
	}

	for _, part := range strings.Split(connString, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed connection string segment %q", part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "server", "host":
			cfg.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q: %w", value, err)
			}
			cfg.Port = port
		case "user id", "uid", "user":
			cfg.User = value
		case "password", "pwd":
			cfg.Password = value
		case "database", "initial catalog":
			cfg.Database = value
		case "trust server certificate", "trustservercertificate":
			cfg.TrustServerCertificate = value == "1" || strings.EqualFold(value, "true")
		default:
			cfg.Extra[key] = value
		}
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("connection string is missing a server")
	}

	return cfg, nil
}

// Normalize returns a canonical form of the connection string, used as the
// connection-pool key. Two strings that differ only in key casing, segment
// order, or whitespace normalize to the same key.
func (cfg *Config) Normalize() string {
	pairs := []string{
		"server=" + cfg.Host,
		"port=" + strconv.Itoa(cfg.Port),
		"user id=" + cfg.User,
		"password=" + cfg.Password,
		"database=" + cfg.Database,
		"trust server certificate=" + strconv.FormatBool(cfg.TrustServerCertificate),
	}
	extras := make([]string, 0, len(cfg.Extra))
	for k, v := range cfg.Extra {
		extras = append(extras, k+"="+v)
	}
	sort.Strings(extras)
	return strings.Join(append(pairs, extras...), ";")
}

// Addr returns the host:port endpoint of the server.
func (cfg *Config) Addr() string {
	return cfg.Host + ":" + strconv.Itoa(cfg.Port)
}
