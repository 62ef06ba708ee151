package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/romfetch/internal/classifier"
	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/metadata"
)

func TestNewRootCmd_Commands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"share", "classify", "get", "serve"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	share, _, err := root.Find([]string{"share", "ls"})
	require.NoError(t, err)
	assert.Equal(t, "ls", share.Name())
}

func TestParseShareTarget(t *testing.T) {
	t.Cleanup(func() { shareUser, sharePassword, shareDomain = "", "", "" })

	shareUser, sharePassword, shareDomain = "kid", "secret", "HOME"
	target, err := parseShareTarget("smb://nas/games/snes/Chrono.sfc")
	require.NoError(t, err)
	assert.Equal(t, "snes/Chrono.sfc", target.SubPath)
	require.NotNil(t, target.Credentials)
	assert.Equal(t, "HOME", target.Credentials.Domain)

	target, err = parseShareTarget("smb://bob:pw@nas/games")
	require.NoError(t, err)
	assert.Equal(t, "bob", target.Credentials.Username)

	_, err = parseShareTarget("https://nas/games")
	assert.Error(t, err)
}

func TestFileNameOf(t *testing.T) {
	assert.Equal(t, "Chrono Trigger (USA).zip", fileNameOf("https://archive.org/download/pack/Chrono%20Trigger%20(USA).zip"))
	assert.Equal(t, "Sonic.md", fileNameOf("smb://nas/games/genesis/Sonic.md"))
}

func TestClassifyFiles_KeepsOrder(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "Super Mario World (USA).sfc"),
		filepath.Join(dir, "Sonic.md"),
		filepath.Join(dir, "mystery.bin"),
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(f, []byte("123456789"), 0o644))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := classifier.New(metadata.PathLookup{}, logger)

	results, err := classifyFiles(context.Background(), c, files, "psx", 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "snes", results[0].SystemID)
	assert.True(t, results[0].Detected)
	assert.Equal(t, "genesis", results[1].SystemID)
	assert.Equal(t, "psx", results[2].SystemID)
	assert.False(t, results[2].Detected)
	for _, r := range results {
		assert.Equal(t, "CBF43926", r.CRC)
	}

	var out bytes.Buffer
	require.NoError(t, printClassification(&out, files, results))
	assert.Contains(t, out.String(), "Sonic.md")
	assert.Contains(t, out.String(), "CBF43926")
}

func TestWaitForJobs(t *testing.T) {
	updates := make(chan map[string]domain.DownloadJob, 3)
	ids := map[string]struct{}{"a": {}, "b": {}}

	updates <- map[string]domain.DownloadJob{
		"a": {ID: "a", Status: domain.JobStatusDownloading, DownloadedBytes: 5, TotalBytes: 10},
		"b": {ID: "b", Status: domain.JobStatusPending, TotalBytes: 10},
	}
	updates <- map[string]domain.DownloadJob{
		"a":     {ID: "a", Status: domain.JobStatusCompleted, DownloadedBytes: 10, TotalBytes: 10},
		"b":     {ID: "b", Status: domain.JobStatusError, Error: "boom", TotalBytes: 10},
		"other": {ID: "other", Status: domain.JobStatusDownloading},
	}

	final := waitForJobs(context.Background(), updates, ids)
	require.Len(t, final, 2)
	assert.Equal(t, domain.JobStatusCompleted, final["a"].Status)
	assert.Equal(t, "boom", final["b"].Error)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	err := reportJobs(cmd, final, 2)
	assert.EqualError(t, err, "1 of 2 downloads failed")
	assert.Contains(t, out.String(), "a")
}

func TestWaitForJobs_ClosedChannel(t *testing.T) {
	updates := make(chan map[string]domain.DownloadJob)
	close(updates)

	final := waitForJobs(context.Background(), updates, map[string]struct{}{"a": {}})
	assert.Empty(t, final)
}
