package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelLoggerDisabledByDefault(t *testing.T) {
	l := newChannelLogger("")
	require.False(t, l.enabled())
	// Should not panic or create anything.
	l.logSpeech("#general", "alice", "hello")
}

func TestChannelLoggerWritesSpeechAndMeta(t *testing.T) {
	dir := t.TempDir()
	l := newChannelLogger(dir)
	require.True(t, l.enabled())

	l.logMeta("#general", "alice", "joined")
	l.logSpeech("#general", "alice", "hello there")

	raw, err := ioutil.ReadFile(filepath.Join(dir, "#general.log"))
	require.NoError(t, err)

	contents := string(raw)
	require.Contains(t, contents, "* alice joined")
	require.Contains(t, contents, "<alice> hello there")
}

func TestChannelLoggerFileNameTransform(t *testing.T) {
	dir := t.TempDir()
	l := newChannelLogger(dir)

	l.logMeta("#foo_bar/baz", "alice", "joined")

	raw, err := ioutil.ReadFile(filepath.Join(dir, "#foo__bar_baz.log"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "joined")
}
