package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/adapter/sqlite"
	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/pipeline"
)

func TestWriteTable_AlignsWideCharacters(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, []string{"Library", "Events"}, [][]string{
		{"図書館", "3"},
		{"Davis Branch", "12"},
	})

	want := "" +
		"Library       Events\n" +
		"------------  ------\n" +
		"図書館        3\n" +
		"Davis Branch  12\n"
	assert.Equal(t, want, buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "unexpec...", truncate("unexpected status code: 503", 10))
}

func seedQueue(t *testing.T, path string) {
	t.Helper()
	q, err := sqlite.Open(path)
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	_, err = q.Enqueue(ctx, []domain.LibraryRecord{
		{Name: "Fresno County Public Library", URL: "https://fresnolibrary.org"},
		{Name: "Davis Branch Library", URL: "https://davis.example.org"},
		{Name: "Oakland Public Library", URL: "https://oaklandlibrary.org"},
	})
	require.NoError(t, err)

	captured := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, q.MarkInProgress(ctx, "Fresno County Public Library", "run-1", captured))
	require.NoError(t, q.MarkDone(ctx, "Fresno County Public Library", 4, ""))
	require.NoError(t, q.MarkInProgress(ctx, "Davis Branch Library", "run-1", captured))
	require.NoError(t, q.MarkFailed(ctx, "Davis Branch Library", "find calendar: unexpected status code: 503"))
}

func executeStatus(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"status", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ingest.db")
	seedQueue(t, dbPath)
	t.Setenv("QUEUE_DB_PATH", dbPath)
	t.Setenv("LOG_FORMAT", "text")

	out, err := executeStatus(t)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "pending=1 in_progress=0 done=1 failed=1", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Library"))
	assert.Contains(t, lines[3], "Fresno County Public Library")
	assert.Contains(t, lines[3], "done")
	assert.Contains(t, lines[4], "unexpected status code: 503")
	assert.Contains(t, lines[5], "pending")
}

func TestStatusCommand_Filter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ingest.db")
	seedQueue(t, dbPath)
	t.Setenv("QUEUE_DB_PATH", dbPath)

	out, err := executeStatus(t, "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "Davis Branch Library")
	assert.NotContains(t, out, "Oakland Public Library")
}

func TestStatusCommand_InvalidFilter(t *testing.T) {
	t.Setenv("QUEUE_DB_PATH", filepath.Join(t.TempDir(), "ingest.db"))

	_, err := executeStatus(t, "--status", "stuck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --status")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	cmd := newRunCommand(&env{})
	cmd.SetOut(&out)

	printSummary(cmd, pipeline.RunSummary{RunID: "run-1", Cycled: 3, Done: 2, Failed: 1, Processed: 3, Events: 9, Duration: 1500 * time.Millisecond})

	assert.Contains(t, out.String(), "run run-1 finished in 1.5s")
	assert.Regexp(t, `new pass\s+3`, out.String())
	assert.Contains(t, out.String(), "9 events from 3 libraries")
}

func TestPrintSummary_NoRun(t *testing.T) {
	var out bytes.Buffer
	cmd := newRunCommand(&env{})
	cmd.SetOut(&out)

	printSummary(cmd, pipeline.RunSummary{})
	assert.Empty(t, out.String())
}
