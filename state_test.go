package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadChannelState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "general.state")

	key := "sekrit"
	require.NoError(t, saveChannelState(path, "topic of the day", &key))

	topic, loadedKey, err := loadChannelState(path)
	require.NoError(t, err)
	require.Equal(t, "topic of the day", topic)
	require.NotNil(t, loadedKey)
	require.Equal(t, key, *loadedKey)
}

func TestLoadChannelStateMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.state")

	topic, key, err := loadChannelState(path)
	require.NoError(t, err)
	require.Equal(t, "", topic)
	require.Nil(t, key)
}

func TestSaveChannelStateWithoutKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "general.state")

	require.NoError(t, saveChannelState(path, "no key here", nil))

	topic, key, err := loadChannelState(path)
	require.NoError(t, err)
	require.Equal(t, "no key here", topic)
	require.Nil(t, key)
}

func TestChannelStatePathDisabledWhenNoStateDir(t *testing.T) {
	require.Equal(t, "", channelStatePath("", "#general"))
	require.NotEqual(t, "", channelStatePath("/var/lib/ircd", "#general"))
}
