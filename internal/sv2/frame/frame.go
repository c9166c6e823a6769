// Package frame implements the SV2 frame header: a 6-byte
// extension_type/msg_type/msg_length envelope around a codec-encoded
// message payload.
package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLen is the fixed 6-byte SV2 frame header size.
	HeaderLen = 6
	// MaxPayloadLen is the largest payload a 3-byte length prefix can carry
	// (16 MiB minus one byte), which keeps every frame within the 16 MiB
	// ceiling.
	MaxPayloadLen = 1<<24 - 1

	// ChannelMsgBit is the top bit of extension_type marking a message that
	// carries a channel_id.
	ChannelMsgBit uint16 = 0x8000

	// CoreExtensionType is the base (non-extension) SV2 subprotocol space
	// shared by common, mining, and mint-quote messages in this stack.
	CoreExtensionType uint16 = 0x0000
)

// Frame is a decoded SV2 frame: header fields plus the raw payload.
type Frame struct {
	ExtensionType uint16
	MsgType       uint8
	Payload       []byte
}

// IsChannelMessage reports whether the channel-bit marker is set.
func (f Frame) IsChannelMessage() bool {
	return f.ExtensionType&ChannelMsgBit != 0
}

// BaseExtensionType returns ExtensionType with the channel-bit marker masked off.
func (f Frame) BaseExtensionType() uint16 {
	return f.ExtensionType &^ ChannelMsgBit
}

// Encode serializes f as a 6-byte header followed by its payload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("frame: payload too large: %d bytes", len(f.Payload))
	}
	out := make([]byte, HeaderLen+len(f.Payload))
	binary.LittleEndian.PutUint16(out[0:2], f.ExtensionType)
	out[2] = f.MsgType
	putU24(out[3:6], uint32(len(f.Payload)))
	copy(out[6:], f.Payload)
	return out, nil
}

// Decode parses a single frame from b, requiring b to hold exactly header +
// payload with no residue (use DecodeOne for stream decoding with residue).
func Decode(b []byte) (Frame, error) {
	f, n, err := DecodeOne(b)
	if err != nil {
		return Frame{}, err
	}
	if n != len(b) {
		return Frame{}, fmt.Errorf("frame: trailing bytes: consumed %d of %d", n, len(b))
	}
	return f, nil
}

// DecodeOne parses the first frame from b and returns how many bytes it
// consumed, allowing callers to decode a concatenation of frames from a
// byte stream (the frame-boundary property).
func DecodeOne(b []byte) (Frame, int, error) {
	if len(b) < HeaderLen {
		return Frame{}, 0, fmt.Errorf("frame: too short for header: %d bytes", len(b))
	}
	payloadLen := int(readU24(b[3:6]))
	if payloadLen > MaxPayloadLen {
		return Frame{}, 0, fmt.Errorf("frame: oversized payload length %d exceeds max %d", payloadLen, MaxPayloadLen)
	}
	total := HeaderLen + payloadLen
	if len(b) < total {
		return Frame{}, 0, fmt.Errorf("frame: incomplete payload: need %d have %d", total, len(b))
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[HeaderLen:total])
	return Frame{
		ExtensionType: binary.LittleEndian.Uint16(b[0:2]),
		MsgType:       b[2],
		Payload:       payload,
	}, total, nil
}

func putU24(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

func readU24(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16
}
