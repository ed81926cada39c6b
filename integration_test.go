package main

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testServer starts a real server on an ephemeral port and returns it along
// with a function to shut it down. Tests dial real net.Conns against it,
// exercising the full reactor (accept loop, read/write goroutines, event
// loop) rather than calling handlers directly.
func testServer(t *testing.T) (*Server, string, func()) {
	t.Helper()
	return testServerWithPassword(t, "")
}

func testServerWithPassword(t *testing.T, password string) (*Server, string, func()) {
	t.Helper()

	config := Config{
		Ports:      []int{0},
		ServerName: "irc.test",
		Version:    "ircd-test-0",
		Password:   password,
		WakeupTime: 50 * time.Millisecond,
		PingTime:   time.Hour,
		DeadTime:   time.Hour,
	}

	s, err := newServer(config)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.Listeners = append(s.Listeners, ln)
	s.WG.Add(1)
	go s.acceptConnections(ln)

	s.WG.Add(1)
	go s.alarm()

	go s.eventLoop()

	return s, ln.Addr().String(), func() {
		// Avoid running shutdown() itself here: it mutates server maps and
		// must only ever run on the event loop goroutine. For test teardown
		// it's enough to stop accepting and let the process exit reap
		// everything else.
		close(s.ShutdownChan)
		_ = ln.Close()
	}
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)

	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (tc *testClient) send(line string) {
	_, _ = tc.conn.Write([]byte(line + "\r\n"))
}

func (tc *testClient) readLine(t *testing.T) string {
	t.Helper()
	_ = tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := tc.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

// readUntil reads lines until one contains substr, failing the test if it
// doesn't show up within a handful of lines. Useful for skipping past
// numerics a scenario doesn't care about (e.g. LUSERS/MOTD noise after
// registration).
func (tc *testClient) readUntil(t *testing.T, substr string) string {
	t.Helper()
	for i := 0; i < 40; i++ {
		line := tc.readLine(t)
		if contains(line, substr) {
			return line
		}
	}
	t.Fatalf("never saw line containing %q", substr)
	return ""
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 ||
		(len(haystack) >= len(needle) &&
			func() bool {
				for i := 0; i+len(needle) <= len(haystack); i++ {
					if haystack[i:i+len(needle)] == needle {
						return true
					}
				}
				return false
			}())
}

func registerClient(t *testing.T, tc *testClient, nick string) {
	t.Helper()
	tc.send(fmt.Sprintf("NICK %s", nick))
	tc.send(fmt.Sprintf("USER %s 0 * :%s realname", nick, nick))
	tc.readUntil(t, " 001 ")
}

// S1: a client can register (NICK/USER) and receives RPL_WELCOME.
func TestScenarioRegistration(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	tc := dialClient(t, addr)
	defer tc.conn.Close()

	registerClient(t, tc, "alice")
}

// S2: two clients in the same channel see each other's JOIN and PRIVMSG.
func TestScenarioJoinAndPrivmsg(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	alice := dialClient(t, addr)
	defer alice.conn.Close()
	bob := dialClient(t, addr)
	defer bob.conn.Close()

	registerClient(t, alice, "alice")
	registerClient(t, bob, "bob")

	alice.send("JOIN #general")
	alice.readUntil(t, "366")

	bob.send("JOIN #general")
	bob.readUntil(t, "366")

	joinLine := alice.readUntil(t, "JOIN #general")
	require.Contains(t, joinLine, "bob!")

	alice.send("PRIVMSG #general :hello bob")
	msgLine := bob.readUntil(t, "PRIVMSG #general")
	require.Contains(t, msgLine, "alice!")
	require.Contains(t, msgLine, "hello bob")
}

// S3: a second client cannot take an in-use nickname.
func TestScenarioNickCollision(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	alice := dialClient(t, addr)
	defer alice.conn.Close()
	bob := dialClient(t, addr)
	defer bob.conn.Close()

	registerClient(t, alice, "alice")

	bob.send("NICK alice")
	line := bob.readLine(t)
	require.Contains(t, line, "433")
}

// S4: a channel key (+k) blocks joins that don't supply the right key.
func TestScenarioChannelKey(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	alice := dialClient(t, addr)
	defer alice.conn.Close()
	bob := dialClient(t, addr)
	defer bob.conn.Close()

	registerClient(t, alice, "alice")
	registerClient(t, bob, "bob")

	alice.send("JOIN #secret")
	alice.readUntil(t, "366")

	alice.send("MODE #secret +k hunter2")
	alice.readUntil(t, "MODE #secret")

	bob.send("JOIN #secret")
	line := bob.readUntil(t, "475")
	require.Contains(t, line, "475")

	bob.send("JOIN #secret hunter2")
	bob.readUntil(t, "366")
}

// S5: QUIT tells other channel members and closes the connection cleanly.
func TestScenarioQuitNotifiesChannel(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	alice := dialClient(t, addr)
	defer alice.conn.Close()
	bob := dialClient(t, addr)
	defer bob.conn.Close()

	registerClient(t, alice, "alice")
	registerClient(t, bob, "bob")

	alice.send("JOIN #general")
	alice.readUntil(t, "366")
	bob.send("JOIN #general")
	bob.readUntil(t, "366")
	alice.readUntil(t, "JOIN #general")

	bob.send("QUIT :goodbye")
	line := alice.readUntil(t, "QUIT")
	require.Contains(t, line, "bob!")
	require.Contains(t, line, "goodbye")
}

// S6: commands sent before registration completes (other than PASS/CAP/
// NICK/USER/QUIT) are silently ignored rather than replied to, and don't
// interfere with completing registration afterward.
func TestScenarioCommandBeforeRegistration(t *testing.T) {
	_, addr, shutdown := testServer(t)
	defer shutdown()

	tc := dialClient(t, addr)
	defer tc.conn.Close()

	tc.send("JOIN #general")
	registerClient(t, tc, "alice")
}

// S7: when a server password is configured, NICK/USER sent without a prior
// correct PASS are ignored rather than reserving the nick, so a second
// client can still register with that nick once the first supplies the
// wrong password.
func TestScenarioPasswordPendingBlocksNickReservation(t *testing.T) {
	_, addr, shutdown := testServerWithPassword(t, "letmein")
	defer shutdown()

	squatter := dialClient(t, addr)
	defer squatter.conn.Close()
	squatter.send("NICK alice")
	squatter.send("USER alice 0 * :Alice")

	legit := dialClient(t, addr)
	defer legit.conn.Close()
	legit.send("PASS letmein")
	registerClient(t, legit, "alice")
}
