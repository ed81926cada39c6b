package main

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/config"
)

// Config holds a server's configuration. It is consumed by the core as a
// flat struct; daemonization, PID-file management, privilege dropping, and
// log verbosity are handled outside it (spec.md §6).
type Config struct {
	// Ports is the list of TCP ports to listen on.
	Ports []int

	// ListenHost is the address to bind to. Blank means all interfaces.
	ListenHost string

	// IPv6 toggles whether we also bind an IPv6 listener per port.
	IPv6 bool

	// Password, if non-blank, must be supplied via PASS before registration.
	Password string

	// Cloak replaces the client-visible host in prefixes when non-blank. The
	// real host stays available to the logger.
	Cloak string

	ServerName string
	Version    string

	MOTDFile string

	// LogDir, if non-blank, enables the per-channel transcript logger.
	LogDir string

	// StateDir, if non-blank, enables channel topic/key persistence.
	StateDir string

	// TLSCertFile/TLSKeyFile, if both non-blank, enable TLS on every listener.
	TLSCertFile string
	TLSKeyFile  string

	// WakeupTime is how often the liveness sweep runs, at most.
	WakeupTime time.Duration

	// PingTime is how long a registered client may be idle before we PING it.
	PingTime time.Duration

	// DeadTime is how long a client may be idle before we disconnect it.
	DeadTime time.Duration
}

// loadConfig reads and validates configuration from a file in
// github.com/horgh/config's "key = value" format.
func loadConfig(file string) (Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return Config{}, err
	}

	requiredKeys := []string{
		"ports",
		"server-name",
		"version",
		"wakeup-time",
		"ping-time",
		"dead-time",
	}
	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists || len(v) == 0 {
			return Config{}, fmt.Errorf("missing required config key: %s", key)
		}
	}

	var c Config

	c.Ports, err = parsePorts(configMap["ports"])
	if err != nil {
		return Config{}, fmt.Errorf("invalid ports: %s", err)
	}

	c.ListenHost = configMap["listen-host"]
	c.IPv6 = configMap["ipv6"] == "true"
	c.ServerName = configMap["server-name"]
	c.Version = configMap["version"]
	c.Cloak = configMap["cloak"]
	c.MOTDFile = configMap["motd"]
	c.LogDir = configMap["log-dir"]
	c.StateDir = configMap["state-dir"]
	c.TLSCertFile = configMap["tls-cert"]
	c.TLSKeyFile = configMap["tls-key"]

	c.Password, err = resolvePassword(configMap["password"], configMap["password-file"])
	if err != nil {
		return Config{}, err
	}

	c.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return Config{}, fmt.Errorf("wakeup-time is in invalid format: %s", err)
	}

	c.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return Config{}, fmt.Errorf("ping-time is in invalid format: %s", err)
	}

	c.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return Config{}, fmt.Errorf("dead-time is in invalid format: %s", err)
	}

	return c, nil
}

// resolvePassword implements spec.md §9: when both a literal password and a
// password file are configured, the file takes precedence, and its trailing
// newline is stripped.
func resolvePassword(literal, file string) (string, error) {
	if len(file) == 0 {
		return literal, nil
	}

	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("unable to read password file: %s", err)
	}

	return strings.TrimRight(string(raw), "\r\n"), nil
}

// parsePorts parses a comma separated list of TCP ports.
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if len(p) == 0 {
			continue
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad port value %q: %s", p, err)
		}
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports given")
	}
	return ports, nil
}
