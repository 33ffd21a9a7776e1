package chat

import "sync"

// Client is the registry's view of one attached connection. Send must be safe
// to call from any goroutine; the owner serializes transport writes.
type Client struct {
	AccountID int64
	Channel   ChannelKey
	Send      func([]byte) error
}

// Registry is the process-local map of attached connections, keyed by channel.
// It is bookkeeping only: cross-process delivery goes through the broker, and
// nothing consults the registry to decide whether to publish.
type Registry struct {
	mu       sync.RWMutex
	channels map[ChannelKey]map[int64]*Client
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[ChannelKey]map[int64]*Client)}
}

// Attach registers the client under its channel. A reconnect for the same
// account replaces the stale entry.
func (r *Registry) Attach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers, ok := r.channels[c.Channel]
	if !ok {
		peers = make(map[int64]*Client)
		r.channels[c.Channel] = peers
	}
	peers[c.AccountID] = c
}

// Detach removes the client. It must run before the transport close handshake
// so a late local delivery never targets a closing connection. Detaching a
// client that was replaced by a reconnect is a no-op.
func (r *Registry) Detach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers, ok := r.channels[c.Channel]
	if !ok {
		return
	}
	if peers[c.AccountID] != c {
		return
	}
	delete(peers, c.AccountID)
	if len(peers) == 0 {
		delete(r.channels, c.Channel)
	}
}

// Local returns the account ids attached to the channel on this process.
// Diagnostics only; never authoritative for global presence.
func (r *Registry) Local(key ChannelKey) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accounts := make([]int64, 0, len(r.channels[key]))
	for id := range r.channels[key] {
		accounts = append(accounts, id)
	}
	return accounts
}

// Size returns the total number of attached connections on this process.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, peers := range r.channels {
		n += len(peers)
	}
	return n
}
