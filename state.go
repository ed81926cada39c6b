package main

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Channel state is persisted as a plain "key=value" text file, one entry
// per line. This deliberately avoids anything resembling code execution or
// serialized-object deserialization: the original miniircd persisted
// channel state with Python's pickle/exec-adjacent mechanisms, which is an
// arbitrary-code-execution hazard if the state file is ever attacker
// controlled. We only ever read two well-known keys.
const (
	stateKeyTopic = "topic"
	stateKeyKey   = "key"
)

// channelStatePath returns the on-disk path for a channel's persisted
// state, or "" if persistence is disabled.
func channelStatePath(stateDir, canonicalName string) string {
	if len(stateDir) == 0 {
		return ""
	}
	return filepath.Join(stateDir, safeFileName(canonicalName)+".state")
}

// loadChannelState reads a channel's persisted topic/key. A missing file is
// not an error: it just means the channel has no persisted state yet.
func loadChannelState(path string) (topic string, key *string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, nil
		}
		return "", nil, errors.Wrap(err, "unable to open channel state file")
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}

		k := line[:idx]
		v := line[idx+1:]

		switch k {
		case stateKeyTopic:
			topic = v
		case stateKeyKey:
			keyCopy := v
			key = &keyCopy
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, errors.Wrap(err, "unable to read channel state file")
	}

	return topic, key, nil
}

// saveChannelState writes a channel's topic/key atomically: we write to a
// temporary file in the same directory, then rename it over the real path,
// so a concurrent reader (or a crash mid-write) never sees a partial file.
func saveChannelState(path, topic string, key *string) error {
	dir := filepath.Dir(path)

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s=%s\n", stateKeyTopic, topic)
	if key != nil {
		fmt.Fprintf(&buf, "%s=%s\n", stateKeyKey, *key)
	}

	tmp, err := ioutil.TempFile(dir, ".state-*.tmp")
	if err != nil {
		return errors.Wrap(err, "unable to create temp state file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(buf.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "unable to write temp state file")
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "unable to sync temp state file")
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "unable to close temp state file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "unable to rename temp state file into place")
	}

	return nil
}
