package bitcoin

import (
	"context"
	"fmt"
	"log/slog"

	zmq "github.com/pebbe/zmq4"
)

// HashBlockSubscriber listens for Bitcoin Core's ZMQ hashblock
// notifications and invokes a callback with each new block hash, so a
// caller can trigger an immediate block-template poll instead of waiting
// for its next ticker interval.
type HashBlockSubscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
}

// NewHashBlockSubscriber connects to endpoint and subscribes to the
// hashblock topic. Bitcoin Core must be configured with
// -zmqpubhashblock=<endpoint> for notifications to arrive.
func NewHashBlockSubscriber(endpoint string, logger *slog.Logger) (*HashBlockSubscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		return nil, fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", endpoint, err)
	}
	if err := socket.SetSubscribe("hashblock"); err != nil {
		return nil, fmt.Errorf("failed to subscribe to hashblock topic: %w", err)
	}
	logger.Info("subscribed to ZMQ hashblock", "endpoint", endpoint)
	return &HashBlockSubscriber{socket: socket, endpoint: endpoint, logger: logger}, nil
}

// Listen blocks, calling onBlock with each new block's hash (big-endian
// hex, matching Bitcoin Core's display order) until ctx is cancelled.
func (s *HashBlockSubscriber) Listen(ctx context.Context, onBlock func(blockHash string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := s.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				continue
			}
			s.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 || len(msg[1]) != 32 {
			s.logger.Warn("received malformed hashblock notification", "parts", len(msg))
			continue
		}

		onBlock(reverseHex(msg[1]))
	}
}

// Close closes the ZMQ socket.
func (s *HashBlockSubscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}

// reverseHex reverses bytes and converts to hex string: ZMQ delivers block
// hashes internal (little-endian) byte order, while every other place a
// block hash is displayed or logged uses Bitcoin Core's reversed order.
func reverseHex(data []byte) string {
	reversed := make([]byte, len(data))
	for i := 0; i < len(data); i++ {
		reversed[i] = data[len(data)-1-i]
	}
	return fmt.Sprintf("%x", reversed)
}
