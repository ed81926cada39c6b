package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeNick(t *testing.T) {
	require.Equal(t, "nickname", canonicalizeNick("NickName"))
	require.Equal(t, "{}|~", canonicalizeNick("[]\\^"))
}

func TestCanonicalizeChannel(t *testing.T) {
	require.Equal(t, "#general", canonicalizeChannel("#General"))
}

func TestIsValidNick(t *testing.T) {
	require.True(t, isValidNick("foo"))
	require.True(t, isValidNick("foo-bar99"))
	require.True(t, isValidNick("[foo]"))
	require.False(t, isValidNick(""))
	require.False(t, isValidNick("9foo"))
	require.False(t, isValidNick("foo bar"))
}

func TestIsValidChannel(t *testing.T) {
	require.True(t, isValidChannel("#general"))
	require.True(t, isValidChannel("&local"))
	require.False(t, isValidChannel(""))
	require.False(t, isValidChannel("general"))
	require.False(t, isValidChannel("#has space"))
	require.False(t, isValidChannel("#has,comma"))
}

func TestIsNumericCommand(t *testing.T) {
	require.True(t, isNumericCommand("001"))
	require.False(t, isNumericCommand("PRIVMSG"))
	require.False(t, isNumericCommand(""))
}

func TestSafeFileName(t *testing.T) {
	require.Equal(t, "#general", safeFileName("#general"))
	require.Equal(t, "foo__bar", safeFileName("foo_bar"))
	require.Equal(t, "#foo_bar", safeFileName("#foo/bar"))
}
