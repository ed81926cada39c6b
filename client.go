package main

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/horgh/irc"
)

// Client holds state for a single client connection. There is only one
// generation of client in this server: every connection starts here and
// stays here through registration and for its whole life. There is no
// separate server-link or operator client type (this server never peers
// with other servers and has no operator privilege level).
type Client struct {
	Conn Conn

	// WriteChan is drained by writeLoop and is the only path by which
	// anything is written to the client's connection. Buffered so that a
	// slow reader doesn't stall whoever is sending to it (in particular the
	// event loop goroutine, which must never block).
	WriteChan chan irc.Message

	// ID is unique per process lifetime, never reused.
	ID uint64

	Server *Server

	LastActivityTime time.Time
	LastPingTime     time.Time

	// Registered becomes true once both NICK and USER have been accepted
	// and (if CAP negotiation started) CAP END has been seen.
	Registered bool

	// CapNegotiating is set by a CAP LS/REQ and delays completing
	// registration until CAP END, even if NICK/USER already arrived.
	CapNegotiating bool

	// PasswordOK is true once a correct PASS has been supplied, or
	// trivially true if the server requires none.
	PasswordOK bool

	DisplayNick string
	User        string
	RealName    string

	// Host is what we show in this client's prefix to others: the cloak if
	// the server has one configured, otherwise the real dotted IP.
	Host string

	// Channels the client currently has joined, keyed by canonical name.
	Channels map[string]*Channel
}

// NewClient creates a Client in its initial, unregistered state.
func NewClient(s *Server, id uint64, conn net.Conn) *Client {
	now := time.Now()

	c := &Client{
		Conn:             NewConn(conn, s.Config.DeadTime),
		WriteChan:        make(chan irc.Message, 64),
		ID:               id,
		Server:           s,
		LastActivityTime: now,
		LastPingTime:     now,
		PasswordOK:       len(s.Config.Password) == 0,
		Channels:         make(map[string]*Channel),
	}

	c.Host = c.Conn.IP.String()
	if len(s.Config.Cloak) > 0 {
		c.Host = s.Config.Cloak
	}

	return c
}

func (c *Client) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

// prefix returns this client's nick!user@host prefix as seen by others.
func (c *Client) prefix() string {
	return fmt.Sprintf("%s!%s@%s", c.DisplayNick, c.User, c.Host)
}

// readLoop continuously reads lines from the client's connection, parses
// them, and hands them to the event loop. It owns nothing but the
// connection; all shared state belongs to the event loop goroutine.
func (c *Client) readLoop() {
	defer c.Server.WG.Done()

	for {
		if c.Server.isShuttingDown() {
			break
		}

		line, err := c.Conn.Read()
		if err != nil {
			c.Server.newEvent(Event{Type: DeadClientEvent, ClientID: c.ID})
			break
		}

		if len(line) == 0 {
			continue
		}

		message, err := irc.ParseMessage(line)
		if err != nil {
			// A malformed line is treated the same as a dead connection: cut it
			// off rather than try to resynchronize on the wire.
			log.Printf("client %s sent malformed message: %s", c, err)
			c.Server.newEvent(Event{Type: DeadClientEvent, ClientID: c.ID})
			break
		}

		c.Server.newEvent(Event{
			Type:     MessageFromClientEvent,
			ClientID: c.ID,
			Message:  message,
		})
	}
}

// writeLoop drains WriteChan, encoding and writing each message in turn,
// until the channel is closed (by destroy) or a write fails.
func (c *Client) writeLoop() {
	defer c.Server.WG.Done()

	for message := range c.WriteChan {
		raw, err := encodeOrLog(message)
		if err != nil {
			log.Printf("client %s: unable to encode message: %s", c, err)
			continue
		}

		if err := c.Conn.Write(raw); err != nil {
			c.Server.newEvent(Event{Type: DeadClientEvent, ClientID: c.ID})
			break
		}
	}
}

// send queues a message from the server itself to this client. Numeric
// replies get the client's current display nick (or "*" pre-registration)
// prepended, matching how ircd-ratbox and the teacher server do it.
func (c *Client) send(command string, params []string) {
	if isNumericCommand(command) {
		nick := "*"
		if len(c.DisplayNick) > 0 {
			nick = c.DisplayNick
		}
		params = append([]string{nick}, params...)
	}

	c.WriteChan <- irc.Message{
		Prefix:  c.Server.Config.ServerName,
		Command: command,
		Params:  params,
	}
}

// deliverFrom queues a message on behalf of another client (JOIN, PART,
// PRIVMSG, NICK, TOPIC, QUIT fanout), with that client's nick!user@host as
// the prefix.
func (c *Client) deliverFrom(from *Client, command string, params []string) {
	c.WriteChan <- irc.Message{
		Prefix:  from.prefix(),
		Command: command,
		Params:  params,
	}
}

// onChannel reports whether the client is currently a member of channel.
func (c *Client) onChannel(channel *Channel) bool {
	_, exists := c.Channels[channel.Name]
	return exists
}

// part removes the client from a channel, announcing it (including to the
// client itself) and tearing the channel down if it's now empty.
func (c *Client) part(channelName, partMessage string) {
	canonical := canonicalizeChannel(channelName)

	channel, exists := c.Server.Channels[canonical]
	if !exists {
		c.send("403", []string{channelName, "No such channel"})
		return
	}

	if !c.onChannel(channel) {
		c.send("442", []string{channel.DisplayName, "You're not on that channel"})
		return
	}

	params := []string{channel.DisplayName}
	if len(partMessage) > 0 {
		params = append(params, partMessage)
	}

	for _, member := range channel.Members {
		member.deliverFrom(c, "PART", params)
	}

	c.Server.ChannelLogger.logMeta(channel.Name, c.DisplayNick, "left"+logSuffix(partMessage))

	channel.removeMember(c)
	delete(c.Channels, channel.Name)

	if channel.isEmpty() {
		delete(c.Server.Channels, channel.Name)
	}
}

func logSuffix(msg string) string {
	if len(msg) == 0 {
		return ""
	}
	return fmt.Sprintf(" (%s)", msg)
}

// quit removes the client from the server entirely: every channel it was
// on, its nick reservation, and finally its connection.
func (c *Client) quit(msg string) {
	if len(c.DisplayNick) > 0 {
		delete(c.Server.Nicks, canonicalizeNick(c.DisplayNick))
	}

	informed := map[uint64]struct{}{}
	for _, channel := range c.Channels {
		for _, member := range channel.Members {
			if _, already := informed[member.ID]; already {
				continue
			}
			if member.ID == c.ID {
				continue
			}
			member.deliverFrom(c, "QUIT", []string{msg})
			informed[member.ID] = struct{}{}
		}

		c.Server.ChannelLogger.logMeta(channel.Name, c.DisplayNick, "left"+logSuffix(msg))

		channel.removeMember(c)
		if channel.isEmpty() {
			delete(c.Server.Channels, channel.Name)
		}
	}

	c.send("ERROR", []string{msg})

	delete(c.Server.Clients, c.ID)

	c.destroy()
}

// destroy tears down the connection side of the client. It must only be
// called from the event loop goroutine, after the client has already been
// removed from every server map.
func (c *Client) destroy() {
	close(c.WriteChan)

	if err := c.Conn.Close(); err != nil {
		log.Printf("client %s: problem closing connection: %s", c, err)
	}
}
