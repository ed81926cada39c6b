package main

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/horgh/irc"
)

// Server holds all state global to one running server instance. Keeping it
// in one struct rather than package-level variables means tests can spin
// up more than one independent server in a single process.
type Server struct {
	Config Config

	// Clients holds every connection, registered or not, by ID.
	Clients map[uint64]*Client

	// Nicks maps a canonicalized (case-folded) nick to the ID of the client
	// holding it.
	Nicks map[string]uint64

	// Channels maps a canonicalized channel name to its Channel.
	Channels map[string]*Channel

	ChannelLogger *ChannelLogger

	// ShutdownChan is closed to signal every goroutine that we're shutting
	// down. Nothing is ever sent on it; goroutines select against it
	// closing.
	ShutdownChan chan struct{}

	// ToServerChan is how every other goroutine tells the event loop
	// something happened. It's the only place shared state is touched.
	ToServerChan chan Event

	Listeners []net.Listener
	TLSConfig *tls.Config

	// Created is when this server instance started, used in RPL_CREATED.
	Created time.Time

	WG sync.WaitGroup
}

// Event is something a goroutine wants to tell the event loop about.
type Event struct {
	Type EventType

	// ClientID identifies the client the event is about. We look the
	// client up fresh in the event loop rather than trust a *Client
	// pointer captured earlier, since by the time the event is processed
	// the client may already be gone.
	ClientID uint64

	// Client is only set for NewClientEvent, where the client doesn't
	// exist in any server map yet for ClientID to find.
	Client *Client

	Message irc.Message
}

// EventType identifies what kind of Event this is.
type EventType int

const (
	// NullEvent is the zero value; it should never be seen in practice.
	NullEvent EventType = iota

	// NewClientEvent announces a freshly accepted connection.
	NewClientEvent

	// DeadClientEvent means a client's connection failed (read, write, or
	// a malformed message) and it should be cleaned up.
	DeadClientEvent

	// MessageFromClientEvent carries one parsed protocol message.
	MessageFromClientEvent

	// WakeUpEvent tells the event loop to run its periodic bookkeeping
	// (the liveness sweep).
	WakeUpEvent

	// ShutdownRequestEvent tells the event loop to begin shutdown. Routed
	// through an event (rather than calling shutdown() directly) so that
	// the signal handler goroutine in main.go never touches server maps
	// itself.
	ShutdownRequestEvent
)

func newServer(config Config) (*Server, error) {
	tlsConfig, err := buildTLSConfig(config.TLSCertFile, config.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("TLS configuration problem: %s", err)
	}

	return &Server{
		Config:        config,
		Clients:       make(map[uint64]*Client),
		Nicks:         make(map[string]uint64),
		Channels:      make(map[string]*Channel),
		ChannelLogger: newChannelLogger(config.LogDir),
		ShutdownChan:  make(chan struct{}),
		ToServerChan:  make(chan Event),
		TLSConfig:     tlsConfig,
		Created:       time.Now(),
	}, nil
}

// motdLines returns the lines of the configured MOTD file, or nil if no
// MOTD file is configured or it could not be read (the caller replies with
// 422 ERR_NOMOTD in that case, mirroring the original server's behavior of
// treating a missing file as "no MOTD" rather than failing the command).
func (s *Server) motdLines() []string {
	if len(s.Config.MOTDFile) == 0 {
		return nil
	}

	raw, err := ioutil.ReadFile(s.Config.MOTDFile)
	if err != nil {
		log.Printf("unable to read MOTD file %s: %s", s.Config.MOTDFile, err)
		return nil
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// start opens every configured listener, starts the supporting goroutines,
// and then runs the event loop until shutdown.
func (s *Server) start() error {
	for _, port := range s.Config.Ports {
		if err := s.listen("tcp4", port); err != nil {
			return err
		}
		if s.Config.IPv6 {
			if err := s.listen("tcp6", port); err != nil {
				return err
			}
		}
	}

	s.WG.Add(1)
	go s.alarm()

	s.eventLoop()

	s.WG.Wait()

	return nil
}

func (s *Server) listen(network string, port int) error {
	addr := fmt.Sprintf("%s:%d", s.Config.ListenHost, port)
	if network == "tcp6" {
		addr = fmt.Sprintf("[%s]:%d", s.Config.ListenHost, port)
		if len(s.Config.ListenHost) == 0 {
			addr = fmt.Sprintf("[::]:%d", port)
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s %s: %s", network, addr, err)
	}

	s.Listeners = append(s.Listeners, ln)

	s.WG.Add(1)
	go s.acceptConnections(ln)

	return nil
}

// acceptConnections accepts connections on one listener and hands each one
// off to the event loop, then starts its read/write goroutines.
func (s *Server) acceptConnections(ln net.Listener) {
	defer s.WG.Done()

	id := uint64(0)

	for {
		if s.isShuttingDown() {
			break
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() {
				break
			}
			log.Printf("failed to accept connection: %s", err)
			continue
		}

		if s.TLSConfig != nil {
			tlsConn, err := wrapTLS(conn, s.TLSConfig)
			if err != nil {
				log.Printf("TLS handshake failed for %s: %s", conn.RemoteAddr(), err)
				_ = conn.Close()
				continue
			}
			conn = tlsConn
		}

		client := NewClient(s, id, conn)
		id++

		// Synchronous: we need the server to know about the client before
		// either of its goroutines can report anything about it.
		s.newEvent(Event{Type: NewClientEvent, Client: client})

		s.WG.Add(1)
		go client.readLoop()
		s.WG.Add(1)
		go client.writeLoop()
	}
}

// eventLoop is the only goroutine that ever reads or writes Clients, Nicks,
// or Channels, or touches channel membership. Everything else communicates
// through ToServerChan.
func (s *Server) eventLoop() {
	for {
		select {
		case evt := <-s.ToServerChan:
			switch evt.Type {
			case NewClientEvent:
				s.Clients[evt.Client.ID] = evt.Client

			case DeadClientEvent:
				if client, exists := s.Clients[evt.ClientID]; exists {
					client.quit("I/O error")
				}

			case MessageFromClientEvent:
				if client, exists := s.Clients[evt.ClientID]; exists {
					client.LastActivityTime = time.Now()
					s.handleMessage(client, evt.Message)
				}

			case WakeUpEvent:
				s.checkAndPingClients()

			case ShutdownRequestEvent:
				s.shutdown()
				return

			default:
				log.Fatalf("unexpected event type: %d", evt.Type)
			}

		case <-s.ShutdownChan:
			return
		}
	}
}

// shutdown begins server shutdown: stop accepting, tell every client, and
// let readLoop/writeLoop goroutines notice ShutdownChan closing on their
// own.
func (s *Server) shutdown() {
	log.Printf("server shutdown initiated")

	close(s.ShutdownChan)

	for _, ln := range s.Listeners {
		if err := ln.Close(); err != nil {
			log.Printf("problem closing listener: %s", err)
		}
	}

	for _, client := range s.Clients {
		client.quit("Server shutting down")
	}
}

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.ShutdownChan:
		return true
	default:
		return false
	}
}

// alarm wakes the event loop periodically so it can run the liveness
// sweep. It's a distinct goroutine because the event loop must not sleep:
// sleeping there would stall every other client's events too.
func (s *Server) alarm() {
	defer s.WG.Done()

	for {
		if s.isShuttingDown() {
			break
		}

		time.Sleep(s.Config.WakeupTime)

		s.newEvent(Event{Type: WakeUpEvent})
	}
}

// checkAndPingClients enforces the liveness rules: unregistered clients are
// dropped outright once idle past PingTime (they get no grace period to
// answer a PING, since they haven't registered one to answer), while
// registered clients are first PINGed at PingTime and only dropped at
// DeadTime if they never answer.
func (s *Server) checkAndPingClients() {
	now := time.Now()

	for _, client := range s.Clients {
		idle := now.Sub(client.LastActivityTime)

		if !client.Registered {
			if idle > s.Config.PingTime {
				client.quit("Idle too long")
			}
			continue
		}

		if idle < s.Config.PingTime {
			continue
		}

		if idle > s.Config.DeadTime {
			client.quit(fmt.Sprintf("Ping timeout: %d seconds", int(idle.Seconds())))
			continue
		}

		if now.Sub(client.LastPingTime) < s.Config.PingTime {
			continue
		}

		client.send("PING", []string{s.Config.ServerName})
		client.LastPingTime = now
	}
}

// newEvent tells the event loop something happened. Any goroutine may call
// it. It never blocks past shutdown: once ShutdownChan is closed, sends
// here proceed immediately via the second select case instead of hanging
// on an event loop that has already returned.
func (s *Server) newEvent(evt Event) {
	select {
	case s.ToServerChan <- evt:
	case <-s.ShutdownChan:
	}
}
