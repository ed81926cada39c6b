package main

// Channel holds everything to do with a single channel.
type Channel struct {
	// Name is the canonical (case-folded) form, used for map lookups.
	Name string

	// DisplayName is the case as first used to create the channel. JOIN,
	// NAMES, LIST, and similar replies show this form.
	DisplayName string

	// Members maps client ID to Client for everyone currently on the
	// channel.
	Members map[uint64]*Client

	Topic string

	// Key is the channel key (mode +k). nil means no key is set.
	Key *string

	// statePath is where topic/key persist. Blank disables persistence.
	statePath string
}

func newChannel(canonicalName, displayName, statePath string) *Channel {
	return &Channel{
		Name:        canonicalName,
		DisplayName: displayName,
		Members:     make(map[uint64]*Client),
		statePath:   statePath,
	}
}

func (ch *Channel) addMember(c *Client) {
	ch.Members[c.ID] = c
}

func (ch *Channel) removeMember(c *Client) {
	delete(ch.Members, c.ID)
}

func (ch *Channel) hasMember(c *Client) bool {
	_, exists := ch.Members[c.ID]
	return exists
}

func (ch *Channel) isEmpty() bool {
	return len(ch.Members) == 0
}

// nicks returns the display nicks of every member, in no particular order.
func (ch *Channel) nicks() []string {
	nicks := make([]string, 0, len(ch.Members))
	for _, member := range ch.Members {
		nicks = append(nicks, member.DisplayNick)
	}
	return nicks
}

// persist writes the channel's topic and key to disk if persistence is
// enabled. Failures are the caller's to log; in-memory state stays
// authoritative either way.
func (ch *Channel) persist() error {
	if len(ch.statePath) == 0 {
		return nil
	}
	return saveChannelState(ch.statePath, ch.Topic, ch.Key)
}
