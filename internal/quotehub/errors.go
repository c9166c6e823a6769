package quotehub

import "fmt"

// DispatchErrorKind enumerates the non-fatal quote-dispatch failure modes a
// Dispatcher can report; none of them reject the share that triggered the
// dispatch attempt.
type DispatchErrorKind int

const (
	DispatchErrorNone DispatchErrorKind = iota
	// MissingLockingKey: the channel never registered a locking key.
	DispatchErrorMissingLockingKey
	// InvalidLockingKeyFormat: the registered key is not 33 bytes.
	DispatchErrorInvalidLockingKeyFormat
	// InvalidLockingKey: the registered key is 33 bytes but not a valid
	// compressed secp256k1 point encoding.
	DispatchErrorInvalidLockingKey
	// MintDispatcherUnavailable: the circuit breaker to the mint is open.
	DispatchErrorMintUnavailable
	// QuoteDispatchFailed: the mint exchange itself failed or was rejected.
	DispatchErrorDispatchFailed
)

// DispatchError is the typed result of a failed Dispatch call, carrying
// enough context to log MissingLockingKey(channel_id),
// InvalidLockingKeyFormat{channel_id, length}, InvalidLockingKey{channel_id,
// reason}, MintDispatcherUnavailable, or QuoteDispatchFailed(string) without
// string-matching an opaque error.
type DispatchError struct {
	Kind      DispatchErrorKind
	ChannelID uint32
	Length    int
	Reason    string
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case DispatchErrorMissingLockingKey:
		return fmt.Sprintf("missing locking key for channel %d", e.ChannelID)
	case DispatchErrorInvalidLockingKeyFormat:
		return fmt.Sprintf("invalid locking key format for channel %d: length %d", e.ChannelID, e.Length)
	case DispatchErrorInvalidLockingKey:
		return fmt.Sprintf("invalid locking key for channel %d: %s", e.ChannelID, e.Reason)
	case DispatchErrorMintUnavailable:
		return "mint dispatcher unavailable"
	case DispatchErrorDispatchFailed:
		return fmt.Sprintf("quote dispatch failed: %s", e.Reason)
	default:
		return "quote dispatch error"
	}
}

// validateLockingKey checks the compressed secp256k1 pubkey encoding: 33
// bytes with a 0x02/0x03 prefix byte. It does not verify the point lies on
// the curve; that is the mint's concern when it actually locks ecash to it.
func validateLockingKey(channelID uint32, key [33]byte) *DispatchError {
	if key == [33]byte{} {
		return &DispatchError{Kind: DispatchErrorMissingLockingKey, ChannelID: channelID}
	}
	if key[0] != 0x02 && key[0] != 0x03 {
		return &DispatchError{Kind: DispatchErrorInvalidLockingKey, ChannelID: channelID, Reason: "prefix byte must be 0x02 or 0x03"}
	}
	return nil
}
