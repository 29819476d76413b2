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

// tdsbridge is a command line front end for the execution bridge. It runs
// the same preprocessing, pooling, and transaction machinery as the shared
// library, which makes it the quickest way to check what a statement turns
// into and what the server sends back.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlthink/tdsbridge/go/bridge"
	"github.com/sqlthink/tdsbridge/go/bridgeconfig"
	"github.com/sqlthink/tdsbridge/go/protocol/tds"
)

var (
	loader     = bridgeconfig.New()
	configFile string
	connString string
)

var Main = &cobra.Command{
	Use:   "tdsbridge",
	Short: "Execute SQL through the bridge from the command line.",
	Long: "tdsbridge connects to a server with an ADO-style connection string and runs SQL batches " +
		"through the same preprocessing and pooling layer the shared library uses.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loader.LoadFile(configFile)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec [sql...]",
	Short: "Run SQL batches and print row-returning results as JSON.",
	Long: "Run each argument as one SQL batch; with no arguments, read batches from standard input, " +
		"one per line. Row-returning statements print a JSON array; other statements print nothing.",
	RunE: runExec,
}

func main() {
	if err := Main.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg := loader.BridgeConfig()
	cfg.Logger = loader.NewLogger()
	slog.SetDefault(cfg.Logger)

	b := bridge.New(tds.Connector{}, cfg)
	defer b.Close()
	if loader.Trace() {
		b.EnableTrace()
	}

	if err := b.Connect(connString); err != nil {
		return err
	}
	defer b.Disconnect()

	batches := args
	if len(batches) == 0 {
		input, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read standard input: %w", err)
		}
		for _, line := range strings.Split(string(input), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				batches = append(batches, line)
			}
		}
	}

	for _, sql := range batches {
		out, err := b.Execute(sql)
		if err != nil {
			return err
		}
		if out != nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
	}
	return nil
}

func init() {
	Main.PersistentFlags().StringVar(&configFile, "config-file", "", "Optional config file to merge below flags and environment")
	loader.RegisterFlags(Main.PersistentFlags())

	execCmd.Flags().StringVar(&connString, "conn-string", "", "ADO-style connection string (server=...;user id=...;password=...;database=...)")
	_ = execCmd.MarkFlagRequired("conn-string")

	Main.AddCommand(execCmd)
}
