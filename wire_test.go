package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/horgh/irc"
	"github.com/stretchr/testify/require"
)

func TestChunkNames(t *testing.T) {
	require.Nil(t, chunkNames("irc.example.org", "alice", "#general", nil))

	nicks := make([]string, 5)
	for i := range nicks {
		nicks[i] = fmt.Sprintf("nick%d", i)
	}
	chunks := chunkNames("irc.example.org", "alice", "#general", nicks)
	require.Len(t, chunks, 1)
	require.Equal(t, nicks, chunks[0])
}

// TestChunkNamesSplitsLargeLists checks that a nick list too long for one
// 353 line is split across several, and that every resulting line actually
// encodes within irc.MaxLineLength.
func TestChunkNamesSplitsLargeLists(t *testing.T) {
	const serverName = "irc.example.org"
	const requesterNick = "alice"
	const channelName = "#general"

	nicks := make([]string, 200)
	for i := range nicks {
		nicks[i] = fmt.Sprintf("some-fairly-long-nickname-%03d", i)
	}

	chunks := chunkNames(serverName, requesterNick, channelName, nicks)
	require.Greater(t, len(chunks), 1)

	var total int
	for _, chunk := range chunks {
		total += len(chunk)

		m := irc.Message{
			Prefix:  serverName,
			Command: "353",
			Params:  []string{requesterNick, "=", channelName, joinNames(chunk)},
		}
		raw, err := m.Encode()
		require.NoError(t, err)
		require.LessOrEqual(t, len(raw), irc.MaxLineLength)
	}
	require.Equal(t, len(nicks), total)
}

// TestChunkNamesNeverTruncatesANick checks that a maximum-length nick still
// comes back whole rather than split across a chunk boundary.
func TestChunkNamesNeverTruncatesANick(t *testing.T) {
	longNick := strings.Repeat("a", 51)
	nicks := []string{longNick, "bob", "carol"}

	chunks := chunkNames("irc.example.org", "alice", "#general", nicks)

	var allNicks []string
	for _, chunk := range chunks {
		allNicks = append(allNicks, chunk...)
	}
	require.Equal(t, nicks, allNicks)
	require.Contains(t, allNicks, longNick)
}

func TestEncodeOrLogRoundTrip(t *testing.T) {
	m := irc.Message{
		Prefix:  "irc.example.org",
		Command: "PRIVMSG",
		Params:  []string{"#general", "hello there"},
	}

	raw, err := encodeOrLog(m)
	require.NoError(t, err)

	decoded, err := irc.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, m.Prefix, decoded.Prefix)
	require.Equal(t, m.Command, decoded.Command)
	require.Equal(t, m.Params, decoded.Params)
}
