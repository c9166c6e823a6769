package setup

import (
	"sync"

	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/pkg/errors"
)

// Registry binds open channel ids to the Connection currently serving
// them. It satisfies internal/quotehub.ChannelSender so the notifier can
// deliver a MintQuoteNotification without knowing whether the channel
// belongs to a direct miner or the translator's aggregating connection.
type Registry struct {
	mu   sync.RWMutex
	byID map[uint32]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Connection)}
}

// Bind records that channelID is now served by conn, called once
// OpenStandardMiningChannel/OpenExtendedMiningChannel succeeds.
func (r *Registry) Bind(channelID uint32, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[channelID] = conn
}

// Unbind removes channelID; the mining server calls it for each of a
// connection's channels once that connection's read loop exits.
func (r *Registry) Unbind(channelID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, channelID)
}

// UnbindConnection removes every channel id currently bound to conn.
func (r *Registry) UnbindConnection(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.byID {
		if c == conn {
			delete(r.byID, id)
		}
	}
}

// SendToChannel implements internal/quotehub.ChannelSender.
func (r *Registry) SendToChannel(channelID uint32, f frame.Frame) error {
	r.mu.RLock()
	conn, ok := r.byID[channelID]
	r.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrorTypeNetwork, "send_to_channel", "no connection registered for channel").
			WithContext("channel_id", channelID)
	}
	return conn.Send(f)
}
