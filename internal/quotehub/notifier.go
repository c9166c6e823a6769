package quotehub

import (
	"context"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/pkg/log"
)

// ChannelSender delivers a frame to whichever connection currently owns
// channelID, e.g. the translator's downstream-facing SV1 session or a
// direct SV2 miner. internal/setup's connection registry supplies the
// concrete implementation; quotehub only needs to hand frames off.
type ChannelSender interface {
	SendToChannel(channelID uint32, f frame.Frame) error
}

// NotifyInterval is how often the notifier sweeps the table for quotes the
// poller has marked paid.
const NotifyInterval = 1 * time.Second

// Notifier delivers settled quotes back to the channel that earned them.
// Per the pipeline's error policy, a channel that has since disconnected
// is logged and dropped rather than retried — the miner already has its
// share credited on the mint's books regardless of whether the
// notification is ever delivered.
type Notifier struct {
	table  *Table
	sender ChannelSender
	logger *log.Logger

	// OnSettled, if set, is called once a quote has been delivered back to
	// its channel; wired to internal/auditlog.Log.MarkQuoteSettled.
	OnSettled func(quoteID string)
}

// NewNotifier creates a notifier delivering through sender.
func NewNotifier(table *Table, sender ChannelSender, logger *log.Logger) *Notifier {
	return &Notifier{table: table, sender: sender, logger: logger}
}

// Run sweeps the table every NotifyInterval until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(NotifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweepOnce()
		}
	}
}

func (n *Notifier) sweepOnce() {
	for _, q := range n.table.TakePaid() {
		msg := mining.MintQuoteNotification{
			ChannelID: q.ChannelID,
			QuoteID:   q.QuoteID,
			Amount:    q.Amount,
		}
		payload, err := msg.Encode()
		if err != nil {
			n.logger.Error("failed to encode mint quote notification", "quote_id", q.QuoteID, "error", err)
			continue
		}

		f := frame.Frame{
			ExtensionType: mining.QuoteExtensionType | frame.ChannelMsgBit,
			MsgType:       mining.MsgMintQuoteNotification,
			Payload:       payload,
		}
		if err := n.sender.SendToChannel(q.ChannelID, f); err != nil {
			n.logger.Warn("dropping mint quote notification: channel gone", "channel_id", q.ChannelID, "quote_id", q.QuoteID, "error", err)
			continue
		}
		n.logger.Debug("delivered mint quote notification", "channel_id", q.ChannelID, "quote_id", q.QuoteID, "amount", q.Amount)
		if n.OnSettled != nil {
			n.OnSettled(q.QuoteID)
		}
	}
}
