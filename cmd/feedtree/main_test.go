package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_BatchCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FEEDTREE_LOG_PATH", filepath.Join(dir, "feedtree.log"))
	t.Setenv("FEEDTREE_PREFS_PATH", filepath.Join(dir, "feedtree.json"))
	db := filepath.Join(dir, "feedtree.db")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, run([]string{"--db", db, "--add-folder", "News"}, &out, &errOut), errOut.String())
	require.Equal(t, "created folder 10\n", out.String())

	out.Reset()
	require.Equal(t, 0, run([]string{"--db", db, "--add-feed", "https://example.com/feed.xml", "--name", "Example", "--parent", "10"}, &out, &errOut), errOut.String())
	require.Equal(t, "created feed 11\n", out.String())

	out.Reset()
	require.Equal(t, 0, run([]string{"--db", db, "--dump"}, &out, &errOut), errOut.String())
	require.Equal(t, "+ News [10]\n  - Example [11]\n", out.String())
}

func TestRun_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FEEDTREE_LOG_PATH", filepath.Join(dir, "feedtree.log"))
	t.Setenv("FEEDTREE_PREFS_PATH", filepath.Join(dir, "feedtree.json"))
	db := filepath.Join(dir, "feedtree.db")

	var out, errOut bytes.Buffer
	require.Equal(t, 1, run([]string{"--db", db, "--add-feed", "ftp://example.com/feed"}, &out, &errOut))
	require.Contains(t, errOut.String(), "error:")

	errOut.Reset()
	require.Equal(t, 2, run([]string{"--no-such-flag"}, &out, &errOut))

	errOut.Reset()
	require.Equal(t, 1, run([]string{"--db", db, "--add-folder", "Inner", "--parent", "999"}, &out, &errOut))
}
