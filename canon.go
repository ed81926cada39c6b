package main

import (
	"regexp"
	"strings"
)

// Arbitrary. Something low enough we won't hit the message length limit once
// we add a prefix and command around it.
const maxTopicLength = 300

const maxChannelLength = 51

var ircCaseFold = strings.NewReplacer(
	"A", "a", "B", "b", "C", "c", "D", "d", "E", "e", "F", "f", "G", "g",
	"H", "h", "I", "i", "J", "j", "K", "k", "L", "l", "M", "m", "N", "n",
	"O", "o", "P", "p", "Q", "q", "R", "r", "S", "s", "T", "t", "U", "u",
	"V", "v", "W", "w", "X", "x", "Y", "y", "Z", "z",
	"[", "{", "]", "}", "\\", "|", "^", "~",
)

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique network-wide). This is the "scandinavian" case fold:
// A-Z folds to a-z, and additionally [ ] \ ^ fold to { } | ~.
//
// Note: We don't check validity or strip whitespace.
func canonicalizeNick(n string) string {
	return ircCaseFold.Replace(n)
}

// canonicalizeChannel converts the given channel name to its canonical
// representation (which must be unique network-wide). Display of a channel
// (NAMES, LIST, JOIN echoes, ...) always uses the original-case name; only
// map lookups use the canonical form.
func canonicalizeChannel(c string) string {
	return ircCaseFold.Replace(c)
}

var validNickRegexp = regexp.MustCompile(
	"^[A-Za-z\\[\\]\\\\`_^{|}][A-Za-z0-9\\[\\]\\\\`_^{|}-]{0,50}$")

// isValidNick checks if a nickname is valid.
func isValidNick(n string) bool {
	return validNickRegexp.MatchString(n)
}

// isValidChannel checks a channel name for validity.
//
// First byte must be one of & # + !. The remaining 0-50 bytes may be
// anything except NUL, BEL, LF, CR, space, comma, or colon.
func isValidChannel(c string) bool {
	if len(c) == 0 || len(c) > maxChannelLength {
		return false
	}

	switch c[0] {
	case '&', '#', '+', '!':
	default:
		return false
	}

	for i := 1; i < len(c); i++ {
		switch c[i] {
		case 0, 7, '\n', '\r', ' ', ',', ':':
			return false
		}
	}

	return true
}

func isNumericCommand(command string) bool {
	if len(command) == 0 {
		return false
	}
	for _, c := range command {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// safeFileName transforms a canonical (lowercased) name into a name that is
// safe to use as a single path component: _ doubles up, and / (the only
// separator that can appear in a channel name) becomes _.
func safeFileName(canonicalName string) string {
	s := strings.ReplaceAll(canonicalName, "_", "__")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
