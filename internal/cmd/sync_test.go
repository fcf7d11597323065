package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/pkg/output"
)

type syncDirs struct {
	src, dst, out string
}

func newSyncDirs(t *testing.T) syncDirs {
	t.Helper()
	root := t.TempDir()
	return syncDirs{
		src: filepath.Join(root, "src"),
		dst: filepath.Join(root, "dst"),
		out: filepath.Join(root, "report.jsonl"),
	}
}

func (d syncDirs) args(extra ...string) []string {
	return append([]string{"sync", "file://" + d.src, "file://" + d.dst, "--output", "file:" + d.out}, extra...)
}

func TestSync_CopiesMissingObjects(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "a.txt", "alpha")
	writeObject(t, d.src, "dir/b.txt", "bravo")

	require.NoError(t, runCLI(t, d.args()...))

	got, err := os.ReadFile(filepath.Join(d.dst, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(got))
	assert.FileExists(t, filepath.Join(d.dst, "a.txt"))

	recs := readRecords(t, d.out)
	require.NotEmpty(t, recs)
	runID := recs[0].RunID
	for _, r := range recs {
		assert.Equal(t, runID, r.RunID)
	}

	items := recordsOfType[output.ItemRecord](t, recs, output.TypeItem)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, "copy", it.Op)
		assert.Equal(t, "copied", it.Outcome)
	}

	sums := recordsOfType[output.SummaryRecord](t, recs, output.TypeSummary)
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].SourceObjects)
	assert.Equal(t, 2, sums[0].PlannedCopies)
	assert.Equal(t, 2, sums[0].Copied)
	assert.True(t, sums[0].Created)
	assert.False(t, sums[0].DryRun)
}

func TestSync_DryRunWritesPlanOnly(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "a.txt", "alpha")
	writeObject(t, d.dst, "orphan.txt", "old")

	require.NoError(t, runCLI(t, d.args("--dry-run", "--delete-orphans")...))

	assert.NoFileExists(t, filepath.Join(d.dst, "a.txt"))
	assert.FileExists(t, filepath.Join(d.dst, "orphan.txt"))

	recs := readRecords(t, d.out)
	plans := recordsOfType[output.PlanRecord](t, recs, output.TypePlan)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"a.txt"}, plans[0].ToCopy)
	assert.Equal(t, []string{"orphan.txt"}, plans[0].ToDelete)
	assert.Equal(t, "never", plans[0].Overwrite)

	assert.Empty(t, recordsOfType[output.ItemRecord](t, recs, output.TypeItem))
	sums := recordsOfType[output.SummaryRecord](t, recs, output.TypeSummary)
	require.Len(t, sums, 1)
	assert.True(t, sums[0].DryRun)
	assert.Equal(t, 0, sums[0].Copied)
}

func TestSync_DeleteOrphansAndOverwrite(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "a.txt", "new")
	writeObject(t, d.dst, "a.txt", "old")
	writeObject(t, d.dst, "orphan.txt", "gone")

	require.NoError(t, runCLI(t, d.args("--delete-orphans", "--overwrite", "always", "--events")...))

	got, err := os.ReadFile(filepath.Join(d.dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.NoFileExists(t, filepath.Join(d.dst, "orphan.txt"))

	recs := readRecords(t, d.out)
	sums := recordsOfType[output.SummaryRecord](t, recs, output.TypeSummary)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].Copied)
	assert.Equal(t, 1, sums[0].Deleted)

	evs := recordsOfType[output.EventRecord](t, recs, output.TypeEvent)
	names := map[string]bool{}
	for _, e := range evs {
		names[e.Event] = true
	}
	assert.True(t, names["sync.started"])
	assert.True(t, names["delete.finished"])
	assert.True(t, names["sync.finished"])
}

func TestSync_NeverOverwritesByDefault(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "a.txt", "new")
	writeObject(t, d.dst, "a.txt", "old")

	require.NoError(t, runCLI(t, d.args()...))

	got, err := os.ReadFile(filepath.Join(d.dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestSync_IncludeExcludeFilters(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "data/a.parquet", "a")
	writeObject(t, d.src, "data/b.csv", "b")
	writeObject(t, d.src, "data/_tmp/c.parquet", "c")
	writeObject(t, d.dst, "keep.log", "unmatched orphans survive")

	require.NoError(t, runCLI(t, d.args("--include", "**/*.parquet", "--exclude", "**/_tmp/**", "--delete-orphans")...))

	assert.FileExists(t, filepath.Join(d.dst, "data", "a.parquet"))
	assert.NoFileExists(t, filepath.Join(d.dst, "data", "b.csv"))
	assert.NoFileExists(t, filepath.Join(d.dst, "data", "_tmp", "c.parquet"))
	assert.FileExists(t, filepath.Join(d.dst, "keep.log"))
}

func TestSync_PrefixLimitsBothSides(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "images/a.jpg", "a")
	writeObject(t, d.src, "docs/b.txt", "b")
	writeObject(t, d.dst, "docs/orphan.txt", "outside the prefix")

	require.NoError(t, runCLI(t, d.args("--prefix", "images/", "--delete-orphans")...))

	assert.FileExists(t, filepath.Join(d.dst, "images", "a.jpg"))
	assert.NoFileExists(t, filepath.Join(d.dst, "docs", "b.txt"))
	assert.FileExists(t, filepath.Join(d.dst, "docs", "orphan.txt"))
}

func TestSync_Manifest(t *testing.T) {
	d := newSyncDirs(t)
	writeObject(t, d.src, "a.txt", "alpha")
	writeObject(t, d.dst, "orphan.txt", "old")

	manifestPath := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`version: "1.0"
source:
  uri: file://`+d.src+`
destination:
  uri: file://`+d.dst+`
sync:
  delete_orphans: true
output:
  destination: file:`+d.out+`
`), 0o644))

	t.Run("runs the manifest", func(t *testing.T) {
		require.NoError(t, runCLI(t, "sync", "--job", manifestPath))
		assert.FileExists(t, filepath.Join(d.dst, "a.txt"))
		assert.NoFileExists(t, filepath.Join(d.dst, "orphan.txt"))
	})

	t.Run("flags override the manifest", func(t *testing.T) {
		writeObject(t, d.dst, "orphan2.txt", "old")
		require.NoError(t, runCLI(t, "sync", "--job", manifestPath, "--delete-orphans=false"))
		assert.FileExists(t, filepath.Join(d.dst, "orphan2.txt"))
	})
}

func TestSync_ArgumentErrors(t *testing.T) {
	manifestDir := t.TempDir()
	invalid := filepath.Join(manifestDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("version: \"1.0\"\nsource:\n  uri: ftp://x\n"), 0o644))

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{"one argument", []string{"sync", "file:///tmp/a"}, foundry.ExitInvalidArgument, "sync needs"},
		{"bad scheme", []string{"sync", "gs://a", "file:///tmp/b"}, foundry.ExitInvalidArgument, "unsupported provider"},
		{"glob in uri", []string{"sync", "s3://a/*.txt", "s3://b"}, foundry.ExitInvalidArgument, "patterns are not supported"},
		{"prefixes differ", []string{"sync", "s3://a/x/", "s3://b/y/"}, foundry.ExitInvalidArgument, "differ"},
		{"bad overwrite", []string{"sync", "file:///tmp/a", "file:///tmp/b", "--overwrite", "sometimes"}, foundry.ExitInvalidArgument, "--overwrite"},
		{"bad pattern", []string{"sync", "file:///tmp/a", "file:///tmp/b", "--include", "[a-"}, foundry.ExitInvalidArgument, "match patterns"},
		{"missing manifest", []string{"sync", "--job", filepath.Join(manifestDir, "absent.yaml")}, foundry.ExitFileNotFound, "manifest"},
		{"invalid manifest", []string{"sync", "--job", invalid}, foundry.ExitInvalidArgument, "manifest"},
		{"delegated from file", []string{"sync", "file:///tmp/a", "file:///tmp/b", "--delegated-access"}, foundry.ExitInvalidArgument, "az://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ExitCode(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSync_ReadOnly(t *testing.T) {
	t.Run("blocks a mutating sync", func(t *testing.T) {
		d := newSyncDirs(t)
		writeObject(t, d.src, "a.txt", "alpha")

		err := runCLI(t, append([]string{"--readonly"}, d.args()...)...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "readonly")
		assert.NoDirExists(t, d.dst)
	})

	t.Run("allows a dry run", func(t *testing.T) {
		d := newSyncDirs(t)
		writeObject(t, d.src, "a.txt", "alpha")

		require.NoError(t, runCLI(t, append([]string{"--readonly"}, d.args("--dry-run")...)...))
		assert.NoDirExists(t, d.dst)
	})

	t.Run("honors the environment", func(t *testing.T) {
		d := newSyncDirs(t)
		writeObject(t, d.src, "a.txt", "alpha")

		home := t.TempDir()
		t.Setenv("HOME", home)
		resetFlags(t, rootCmd)
		t.Setenv("BLOBSYNC_READONLY", "true")
		rootCmd.SetArgs(d.args())
		t.Cleanup(func() { rootCmd.SetArgs(nil) })

		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "readonly")
	})
}

func TestSync_MissingSourceFails(t *testing.T) {
	d := newSyncDirs(t)

	err := runCLI(t, d.args()...)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

	errs := recordsOfType[output.ErrorRecord](t, readRecords(t, d.out), output.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, output.ErrCodeNotFound, errs[0].Code)
}

func TestCreateWriter(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		w, cleanup, err := createWriter("stdout", "run", "file")
		require.NoError(t, err)
		require.NotNil(t, w)
		cleanup()
	})

	t.Run("file prefix", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.jsonl")
		w, cleanup, err := createWriter("file:"+path, "run", "file")
		require.NoError(t, err)
		require.NoError(t, w.WriteSummary(t.Context(), &output.SummaryRecord{Copied: 1}))
		cleanup()

		recs := readRecords(t, path)
		require.Len(t, recs, 1)
		assert.Equal(t, output.TypeSummary, recs[0].Type)
		assert.Equal(t, "run", recs[0].RunID)
	})

	t.Run("empty path", func(t *testing.T) {
		_, _, err := createWriter("file:", "run", "file")
		require.Error(t, err)
	})

	t.Run("unwritable", func(t *testing.T) {
		_, _, err := createWriter("file:"+filepath.Join(t.TempDir(), "missing", "out.jsonl"), "run", "file")
		require.Error(t, err)
	})
}

func TestStartStatusServer(t *testing.T) {
	stop, err := startStatusServer(t.Context(), "", nil)
	require.NoError(t, err)
	stop()

	_, err = startStatusServer(t.Context(), "localhost", nil)
	require.Error(t, err)

	_, err = startStatusServer(t.Context(), "localhost:http", nil)
	require.Error(t, err)
}
