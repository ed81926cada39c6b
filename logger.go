package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// ChannelLogger appends a human-readable transcript of channel activity to
// one file per channel. It opens, appends, and closes the file on every
// write rather than holding it open, so external log rotation (logrotate
// moving the file out from under us) just works.
type ChannelLogger struct {
	dir string
}

// newChannelLogger returns a logger. A blank dir disables logging: writes
// become no-ops.
func newChannelLogger(dir string) *ChannelLogger {
	return &ChannelLogger{dir: dir}
}

func (l *ChannelLogger) enabled() bool {
	return len(l.dir) > 0
}

func (l *ChannelLogger) path(canonicalChannelName string) string {
	return filepath.Join(l.dir, safeFileName(canonicalChannelName)+".log")
}

// logSpeech records a PRIVMSG/NOTICE line: "[<ts>] <nick> text".
func (l *ChannelLogger) logSpeech(canonicalChannelName, nick, text string) {
	l.write(canonicalChannelName, fmt.Sprintf("<%s> %s", nick, text))
}

// logMeta records a join/part/quit/nick/topic event: "[<ts>] * nick text".
func (l *ChannelLogger) logMeta(canonicalChannelName, nick, text string) {
	l.write(canonicalChannelName, fmt.Sprintf("* %s %s", nick, text))
}

func (l *ChannelLogger) write(canonicalChannelName, formatted string) {
	if !l.enabled() {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 MST")

	f, err := os.OpenFile(l.path(canonicalChannelName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("channel logger: unable to open log for %s: %s", canonicalChannelName, err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "[%s] %s\n", timestamp, formatted); err != nil {
		log.Printf("channel logger: unable to write log for %s: %s", canonicalChannelName, err)
	}
}
