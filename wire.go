package main

import (
	"strings"

	"github.com/horgh/irc"
)

// namesOverhead returns how many bytes of an encoded 353 RPL_NAMREPLY line
// are already spoken for by the server name, requester nick, and channel
// name it also carries, leaving the remainder of irc.MaxLineLength for the
// nick list itself: ":<server> 353 <nick> = <channel> :" plus the CRLF
// Encode() appends.
func namesOverhead(serverName, requesterNick, channelName string) int {
	fixed := len(serverName) + len("353") + len(requesterNick) + len("=") + len(channelName)
	// ':' prefix, 4 separating spaces, the ' :' before the nick list, CRLF.
	return fixed + 1 + 4 + 2 + 2
}

// chunkNames splits a channel's member nick list into groups that each fit
// on one 353 line once encoded, given the fixed overhead the rest of that
// line (server name, requester nick, channel name) also carries. Chunk
// boundaries are chosen by measuring actual encoded length rather than a
// fixed nick count: nicknames are valid up to 51 bytes (canon.go's
// validNickRegexp), so a fixed count can still overflow irc.MaxLineLength
// and leave Message.Encode to truncate mid-nick.
func chunkNames(serverName, requesterNick, channelName string, nicks []string) [][]string {
	if len(nicks) == 0 {
		return nil
	}

	available := irc.MaxLineLength - namesOverhead(serverName, requesterNick, channelName)

	var chunks [][]string
	var current []string
	length := 0

	for _, nick := range nicks {
		add := len(nick)
		if len(current) > 0 {
			add++ // separating space
		}

		if len(current) > 0 && length+add > available {
			chunks = append(chunks, current)
			current = nil
			length = 0
			add = len(nick)
		}

		current = append(current, nick)
		length += add
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// joinNames formats a chunk of nicks as the single trailing parameter of a
// 353 RPL_NAMREPLY message.
func joinNames(nicks []string) string {
	return strings.Join(nicks, " ")
}

// encodeOrLog encodes a Message to raw wire format for Write. It logs
// (rather than fails) on irc.ErrTruncated since a truncated reply is still
// better delivered than dropped.
func encodeOrLog(m irc.Message) (string, error) {
	raw, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return "", err
	}
	return raw, nil
}
