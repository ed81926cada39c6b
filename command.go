package main

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/horgh/irc"
)

// handleMessage dispatches one parsed message from a client. It always
// runs on the event loop goroutine, so it is free to read and mutate
// every Server map without locking.
func (s *Server) handleMessage(c *Client, m irc.Message) {
	switch m.Command {
	case "PASS":
		s.passCommand(c, m)
		return
	case "CAP":
		s.capCommand(c, m)
		return
	case "QUIT":
		// QUIT is legal even before registration completes.
		s.quitCommand(c, m)
		return
	}

	if !c.PasswordOK {
		// Password-pending: only PASS, CAP, and QUIT (handled above) are
		// honored. Everything else is silently ignored rather than letting an
		// unauthenticated connection reserve a nick or record user info.
		return
	}

	if !c.Registered {
		switch m.Command {
		case "NICK":
			s.nickCommand(c, m)
		case "USER":
			s.userCommand(c, m)
		}
		// Anything else before registration is silently ignored: there is no
		// numeric for this case in the command table this server implements.
		return
	}

	switch m.Command {
	case "JOIN":
		s.joinCommand(c, m)
	case "PART":
		s.partCommand(c, m)
	case "PRIVMSG", "NOTICE":
		s.privmsgCommand(c, m)
	case "TOPIC":
		s.topicCommand(c, m)
	case "MODE":
		s.modeCommand(c, m)
	case "NAMES":
		s.namesCommand(c, m)
	case "LIST":
		s.listCommand(c, m)
	case "WHO":
		s.whoCommand(c, m)
	case "WHOIS":
		s.whoisCommand(c, m)
	case "ISON":
		s.isonCommand(c, m)
	case "LUSERS":
		s.lusersCommand(c)
	case "MOTD":
		s.motdCommand(c)
	case "PING":
		s.pingCommand(c, m)
	case "PONG":
		// Nothing to do; LastActivityTime was already bumped.
	case "AWAY":
		s.awayCommand(c, m)
	case "WALLOPS":
		s.wallopsCommand(c, m)
	default:
		// 421 ERR_UNKNOWNCOMMAND
		c.send("421", []string{m.Command, "Unknown command"})
	}
}

func (s *Server) passCommand(c *Client, m irc.Message) {
	if c.Registered {
		c.send("462", []string{"Unauthorized command (already registered)"})
		return
	}
	if len(m.Params) == 0 {
		c.send("461", []string{"PASS", "Not enough parameters"})
		return
	}
	c.PasswordOK = len(s.Config.Password) == 0 || m.Params[0] == s.Config.Password
}

// capCommand implements just enough of capability negotiation (RFC/IRCv3
// CAP) for clients that probe for it before registering: LS/LIST report no
// capabilities, REQ always NAKs, and END releases the registration hold a
// prior LS/REQ placed.
func (s *Server) capCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		return
	}

	switch strings.ToUpper(m.Params[0]) {
	case "LS", "LIST":
		c.CapNegotiating = true
		c.send("CAP", []string{"*", "LS", ""})
	case "REQ":
		requested := ""
		if len(m.Params) > 1 {
			requested = m.Params[1]
		}
		c.send("CAP", []string{"*", "NAK", requested})
	case "END":
		c.CapNegotiating = false
		s.maybeCompleteRegistration(c)
	}
}

func (s *Server) nickCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[0]

	if !isValidNick(nick) {
		c.send("432", []string{nick, "Erroneous nickname"})
		return
	}

	nickCanon := canonicalizeNick(nick)

	if existingID, exists := s.Nicks[nickCanon]; exists && existingID != c.ID {
		c.send("433", []string{nick, "Nickname is already in use"})
		return
	}

	oldDisplayNick := c.DisplayNick

	if len(oldDisplayNick) > 0 {
		delete(s.Nicks, canonicalizeNick(oldDisplayNick))
	}
	s.Nicks[nickCanon] = c.ID

	if c.Registered {
		informed := map[uint64]struct{}{c.ID: {}}
		for _, channel := range c.Channels {
			for _, member := range channel.Members {
				if _, already := informed[member.ID]; already {
					continue
				}
				member.deliverFrom(c, "NICK", []string{nick})
				informed[member.ID] = struct{}{}
			}

			s.ChannelLogger.logMeta(channel.Name, c.DisplayNick,
				fmt.Sprintf("changed nickname to %s", nick))
		}
		c.deliverFrom(c, "NICK", []string{nick})
	}

	c.DisplayNick = nick

	s.maybeCompleteRegistration(c)
}

func (s *Server) userCommand(c *Client, m irc.Message) {
	if c.Registered {
		c.send("462", []string{"Unauthorized command (already registered)"})
		return
	}

	if len(m.Params) != 4 {
		c.send("461", []string{"USER", "Not enough parameters"})
		return
	}

	c.User = m.Params[0]

	realName := m.Params[3]
	if len(realName) > 64 {
		realName = realName[:64]
	}
	c.RealName = realName

	s.maybeCompleteRegistration(c)
}

// maybeCompleteRegistration finishes registration once NICK, USER, a
// correct PASS (if required), and CAP END (if CAP negotiation began) have
// all happened.
func (s *Server) maybeCompleteRegistration(c *Client) {
	if c.Registered {
		return
	}
	if len(c.DisplayNick) == 0 || len(c.User) == 0 {
		return
	}
	if !c.PasswordOK {
		c.send("464", []string{"Password incorrect"})
		return
	}
	if c.CapNegotiating {
		return
	}

	c.Registered = true

	c.send("001", []string{
		fmt.Sprintf("Welcome to the Internet Relay Network %s", c.prefix()),
	})
	c.send("002", []string{
		fmt.Sprintf("Your host is %s, running version %s", s.Config.ServerName, s.Config.Version),
	})
	c.send("003", []string{
		fmt.Sprintf("This server was created %s", s.Created.Format(time.RFC1123)),
	})
	c.send("004", []string{s.Config.ServerName, s.Config.Version, "i", "k"})

	s.lusersCommand(c)
	s.motdCommand(c)
}

func (s *Server) joinCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"JOIN", "Not enough parameters"})
		return
	}

	if len(m.Params) == 1 && m.Params[0] == "0" {
		for name := range c.Channels {
			c.part(name, "")
		}
		return
	}

	channelNames := strings.Split(m.Params[0], ",")

	var keys []string
	if len(m.Params) > 1 {
		keys = strings.Split(m.Params[1], ",")
	}

	for i, channelName := range channelNames {
		var key string
		if i < len(keys) {
			key = keys[i]
		}
		s.joinOne(c, channelName, key)
	}
}

func (s *Server) joinOne(c *Client, channelName, key string) {
	canonical := canonicalizeChannel(channelName)

	if !isValidChannel(canonical) {
		c.send("403", []string{channelName, "Invalid channel name"})
		return
	}

	if _, already := c.Channels[canonical]; already {
		return
	}

	channel, exists := s.Channels[canonical]
	if !exists {
		statePath := channelStatePath(s.Config.StateDir, canonical)
		channel = newChannel(canonical, channelName, statePath)

		if len(statePath) > 0 {
			topic, persistedKey, err := loadChannelState(statePath)
			if err != nil {
				// In-memory state stays authoritative; just log it.
				log.Printf("unable to load channel state for %s: %s", canonical, err)
			} else {
				channel.Topic = topic
				channel.Key = persistedKey
			}
		}

		s.Channels[canonical] = channel
	}

	if channel.Key != nil && *channel.Key != key {
		c.send("475", []string{channel.DisplayName, "Cannot join channel (+k) - bad key"})
		return
	}

	channel.addMember(c)
	c.Channels[canonical] = channel

	for _, member := range channel.Members {
		member.deliverFrom(c, "JOIN", []string{channel.DisplayName})
	}

	s.ChannelLogger.logMeta(channel.Name, c.DisplayNick, "joined")

	if len(channel.Topic) > 0 {
		c.send("332", []string{channel.DisplayName, channel.Topic})
	} else {
		c.send("331", []string{channel.DisplayName, "No topic is set"})
	}

	s.sendNames(c, channel)
}

func (s *Server) partCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"PART", "Not enough parameters"})
		return
	}

	partMessage := ""
	if len(m.Params) >= 2 {
		partMessage = m.Params[1]
	}

	for _, channelName := range strings.Split(m.Params[0], ",") {
		c.part(channelName, partMessage)
	}
}

func (s *Server) privmsgCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("411", []string{fmt.Sprintf("No recipient given (%s)", m.Command)})
		return
	}
	if len(m.Params) == 1 {
		c.send("412", []string{"No text to send"})
		return
	}

	target := m.Params[0]
	msg := m.Params[1]

	if isValidChannel(canonicalizeChannel(target)) {
		canonical := canonicalizeChannel(target)

		channel, exists := s.Channels[canonical]
		if !exists {
			c.send("403", []string{target, "No such channel"})
			return
		}

		for _, member := range channel.Members {
			if member.ID == c.ID {
				continue
			}
			member.deliverFrom(c, m.Command, []string{channel.DisplayName, msg})
		}

		if m.Command == "PRIVMSG" {
			s.ChannelLogger.logSpeech(channel.Name, c.DisplayNick, msg)
		}

		return
	}

	nickCanon := canonicalizeNick(target)
	targetID, exists := s.Nicks[nickCanon]
	if !exists {
		c.send("401", []string{target, "No such nick/channel"})
		return
	}

	targetClient := s.Clients[targetID]
	targetClient.deliverFrom(c, m.Command, []string{targetClient.DisplayNick, msg})
}

func (s *Server) topicCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"TOPIC", "Not enough parameters"})
		return
	}

	canonical := canonicalizeChannel(m.Params[0])
	channel, exists := s.Channels[canonical]
	if !exists {
		c.send("403", []string{m.Params[0], "No such channel"})
		return
	}

	if !c.onChannel(channel) {
		c.send("442", []string{channel.DisplayName, "You're not on that channel"})
		return
	}

	if len(m.Params) < 2 {
		if len(channel.Topic) == 0 {
			c.send("331", []string{channel.DisplayName, "No topic is set"})
			return
		}
		c.send("332", []string{channel.DisplayName, channel.Topic})
		return
	}

	topic := m.Params[1]
	if len(topic) > maxTopicLength {
		topic = topic[:maxTopicLength]
	}
	channel.Topic = topic

	for _, member := range channel.Members {
		member.deliverFrom(c, "TOPIC", []string{channel.DisplayName, channel.Topic})
	}

	s.ChannelLogger.logMeta(channel.Name, c.DisplayNick, fmt.Sprintf("set topic to %q", topic))

	if err := channel.persist(); err != nil {
		log.Printf("unable to persist channel state for %s: %s", channel.Name, err)
	}
}

// modeCommand handles both user mode (only ever a self-query/no-op reply,
// since this server has no user modes worth setting) and channel mode
// (only +k/-k are supported).
func (s *Server) modeCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"MODE", "Not enough parameters"})
		return
	}

	target := m.Params[0]

	if canonicalizeNick(target) == canonicalizeNick(c.DisplayNick) {
		if len(m.Params) == 1 {
			c.send("221", []string{"+"})
			return
		}
		c.send("501", []string{"Unknown MODE flag"})
		return
	}

	canonical := canonicalizeChannel(target)
	channel, exists := s.Channels[canonical]
	if !exists {
		c.send("403", []string{target, "No such channel"})
		return
	}

	if len(m.Params) < 2 {
		modes := "+"
		params := []string{channel.DisplayName, modes}
		if channel.Key != nil {
			params[1] = "+k"
			if c.onChannel(channel) {
				params = append(params, *channel.Key)
			}
		}
		c.send("324", params)
		return
	}

	flag := m.Params[1]

	if !c.onChannel(channel) {
		c.send("442", []string{channel.DisplayName, "You're not on that channel"})
		return
	}

	switch flag {
	case "+k":
		if len(m.Params) < 3 {
			c.send("461", []string{"MODE", "Not enough parameters"})
			return
		}
		key := m.Params[2]
		channel.Key = &key

		for _, member := range channel.Members {
			member.deliverFrom(c, "MODE", []string{channel.DisplayName, "+k", key})
		}
		s.ChannelLogger.logMeta(channel.Name, c.DisplayNick, fmt.Sprintf("set channel key to %s", key))

	case "-k":
		channel.Key = nil

		for _, member := range channel.Members {
			member.deliverFrom(c, "MODE", []string{channel.DisplayName, "-k"})
		}
		s.ChannelLogger.logMeta(channel.Name, c.DisplayNick, "removed channel key")

	default:
		c.send("472", []string{flag, "Unknown MODE flag"})
		return
	}

	if err := channel.persist(); err != nil {
		log.Printf("unable to persist channel state for %s: %s", channel.Name, err)
	}
}

// sendNames sends RPL_NAMREPLY (353), chunked so no line risks exceeding
// irc.MaxLineLength, followed by RPL_ENDOFNAMES (366).
func (s *Server) sendNames(c *Client, channel *Channel) {
	nicks := channel.nicks()
	sort.Strings(nicks)

	requesterNick := c.DisplayNick
	if len(requesterNick) == 0 {
		requesterNick = "*"
	}

	for _, chunk := range chunkNames(s.Config.ServerName, requesterNick, channel.DisplayName, nicks) {
		c.send("353", []string{"=", channel.DisplayName, joinNames(chunk)})
	}

	c.send("366", []string{channel.DisplayName, "End of NAMES list"})
}

func (s *Server) namesCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		var names []string
		for _, channel := range s.Channels {
			names = append(names, channel.DisplayName)
		}
		sort.Strings(names)
		for _, name := range names {
			s.sendNames(c, s.Channels[canonicalizeChannel(name)])
		}
		return
	}

	for _, channelName := range strings.Split(m.Params[0], ",") {
		channel, exists := s.Channels[canonicalizeChannel(channelName)]
		if !exists {
			continue
		}
		s.sendNames(c, channel)
	}
}

func (s *Server) listCommand(c *Client, m irc.Message) {
	var channels []*Channel

	if len(m.Params) == 0 {
		for _, channel := range s.Channels {
			channels = append(channels, channel)
		}
	} else {
		for _, channelName := range strings.Split(m.Params[0], ",") {
			if channel, exists := s.Channels[canonicalizeChannel(channelName)]; exists {
				channels = append(channels, channel)
			}
		}
	}

	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })

	for _, channel := range channels {
		c.send("322", []string{
			channel.DisplayName,
			fmt.Sprintf("%d", len(channel.Members)),
			channel.Topic,
		})
	}

	c.send("323", []string{"End of LIST"})
}

func (s *Server) whoCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"WHO", "Not enough parameters"})
		return
	}

	channel, exists := s.Channels[canonicalizeChannel(m.Params[0])]
	if !exists {
		c.send("315", []string{m.Params[0], "End of WHO list"})
		return
	}

	for _, member := range channel.Members {
		c.send("352", []string{
			channel.DisplayName, member.User, member.Host, s.Config.ServerName,
			member.DisplayNick, "H", "0 " + member.RealName,
		})
	}

	c.send("315", []string{channel.DisplayName, "End of WHO list"})
}

func (s *Server) whoisCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("431", []string{"No nickname given"})
		return
	}

	nick := m.Params[0]
	targetID, exists := s.Nicks[canonicalizeNick(nick)]
	if !exists {
		c.send("401", []string{nick, "No such nick/channel"})
		return
	}
	target := s.Clients[targetID]

	c.send("311", []string{
		target.DisplayNick, target.User, target.Host, "*", target.RealName,
	})
	c.send("312", []string{target.DisplayNick, s.Config.ServerName, s.Config.ServerName})

	var channelNames []string
	for _, channel := range target.Channels {
		channelNames = append(channelNames, channel.DisplayName)
	}
	if len(channelNames) > 0 {
		sort.Strings(channelNames)
		c.send("319", []string{target.DisplayNick, strings.Join(channelNames, " ") + " "})
	}

	idle := int(time.Now().Sub(target.LastActivityTime).Seconds())
	c.send("317", []string{target.DisplayNick, fmt.Sprintf("%d", idle), "seconds idle"})

	c.send("318", []string{target.DisplayNick, "End of WHOIS list"})
}

func (s *Server) isonCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"ISON", "Not enough parameters"})
		return
	}

	var online []string
	for _, nick := range m.Params {
		if _, exists := s.Nicks[canonicalizeNick(nick)]; exists {
			online = append(online, nick)
		}
	}

	c.send("303", []string{strings.Join(online, " ")})
}

func (s *Server) lusersCommand(c *Client) {
	c.send("251", []string{
		fmt.Sprintf("There are %d users and %d services on %d servers.", len(s.Nicks), 0, 0),
	})

	numUnknown := len(s.Clients) - len(s.Nicks)
	if numUnknown > 0 {
		c.send("253", []string{fmt.Sprintf("%d", numUnknown), "unknown connection(s)"})
	}

	if len(s.Channels) > 0 {
		c.send("254", []string{fmt.Sprintf("%d", len(s.Channels)), "channels formed"})
	}

	c.send("255", []string{fmt.Sprintf("I have %d clients and %d servers", len(s.Nicks), 0)})
}

func (s *Server) motdCommand(c *Client) {
	lines := s.motdLines()
	if lines == nil {
		c.send("422", []string{"MOTD File is missing"})
		return
	}

	c.send("375", []string{fmt.Sprintf("- %s Message of the day - ", s.Config.ServerName)})
	for _, line := range lines {
		c.send("372", []string{fmt.Sprintf("- %s", line)})
	}
	c.send("376", []string{"End of MOTD command"})
}

func (s *Server) quitCommand(c *Client, m irc.Message) {
	msg := c.DisplayNick
	if len(m.Params) > 0 {
		msg = m.Params[0]
	}
	c.quit(msg)
}

func (s *Server) pingCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("409", []string{"No origin specified"})
		return
	}
	c.send("PONG", []string{s.Config.ServerName, m.Params[0]})
}

func (s *Server) awayCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 || len(m.Params[0]) == 0 {
		c.send("305", []string{"You are no longer marked as being away"})
		return
	}
	c.send("306", []string{"You have been marked as being away"})
}

func (s *Server) wallopsCommand(c *Client, m irc.Message) {
	if len(m.Params) == 0 {
		c.send("461", []string{"WALLOPS", "Not enough parameters"})
		return
	}

	for _, client := range s.Clients {
		client.deliverFrom(c, "NOTICE", []string{
			client.DisplayNick, fmt.Sprintf("Global notice: %s", m.Params[0]),
		})
	}
}
