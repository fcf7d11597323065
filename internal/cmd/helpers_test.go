package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/internal/config"
)

// resetFlags restores every flag of c and its children to its default.
// Cobra keeps flag state between Execute calls.
func resetFlags(t *testing.T, c *cobra.Command) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			require.NoError(t, sv.Replace(nil))
		} else {
			require.NoError(t, f.Value.Set(f.DefValue))
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(t, child)
	}
}

// runCLI executes the root command with args in an isolated home.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("BLOBSYNC_READONLY", "")

	resetFlags(t, rootCmd)
	t.Cleanup(func() {
		resetFlags(t, rootCmd)
		rootCmd.SetArgs(nil)
		config.SetConfigFile("")
	})

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

type record struct {
	Type  string          `json:"type"`
	RunID string          `json:"run_id"`
	Data  json.RawMessage `json:"data"`
}

// readRecords parses a JSONL report file.
func readRecords(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

// recordsOfType decodes the data of every record of type typ into T.
func recordsOfType[T any](t *testing.T, recs []record, typ string) []T {
	t.Helper()
	var out []T
	for _, r := range recs {
		if r.Type != typ {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(r.Data, &v))
		out = append(out, v)
	}
	return out
}

func writeObject(t *testing.T, base, name, content string) {
	t.Helper()
	full := filepath.Join(base, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}
