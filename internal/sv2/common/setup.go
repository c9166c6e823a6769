// Package common implements the SV2 common subprotocol: SetupConnection and
// its Success/Error replies, which every connection negotiates before
// moving to a role-specific message loop.
package common

import "github.com/bardlex/hashpool/internal/sv2/codec"

// Message type bytes, authoritative per the wire contract.
const (
	MsgSetupConnection        uint8 = 0x00
	MsgSetupConnectionSuccess uint8 = 0x01
	MsgSetupConnectionError   uint8 = 0x02
)

// Protocol identifies the subprotocol a connection negotiates.
type Protocol uint8

const (
	ProtocolMining               Protocol = 0
	ProtocolJobDeclaration       Protocol = 1
	ProtocolTemplateDistribution Protocol = 2
	ProtocolMintQuote            Protocol = 3
)

// SetupConnection flag bits. These bits are authoritative; a prior
// implementation that swapped REQUIRES_WORK_SELECTION and
// REQUIRES_VERSION_ROLLING was a bug.
const (
	FlagRequiresStandardJobs   uint32 = 1 << 0
	FlagRequiresWorkSelection  uint32 = 1 << 1
	FlagRequiresVersionRolling uint32 = 1 << 2
)

// HasWorkSelection reports whether the work-selection bit is set.
func HasWorkSelection(flags uint32) bool { return flags&FlagRequiresWorkSelection != 0 }

// HasVersionRolling reports whether the version-rolling bit is set.
func HasVersionRolling(flags uint32) bool { return flags&FlagRequiresVersionRolling != 0 }

// HasStandardJobs reports whether the standard-jobs bit is set.
func HasStandardJobs(flags uint32) bool { return flags&FlagRequiresStandardJobs != 0 }

// SetupConnection is the initiator's first post-handshake frame.
type SetupConnection struct {
	Protocol        Protocol
	MinVersion      uint16
	MaxVersion      uint16
	Flags           uint32
	EndpointHost    string
	EndpointPort    uint16
	VendorName      string
	HardwareVersion string
	Firmware        string
	DeviceID        string
}

// Encode serializes the message body (without the frame header).
func (m SetupConnection) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	w.PutU8(uint8(m.Protocol))
	w.PutU16(m.MinVersion)
	w.PutU16(m.MaxVersion)
	w.PutU32(m.Flags)
	if err := w.PutStr0255(m.EndpointHost); err != nil {
		return nil, err
	}
	w.PutU16(m.EndpointPort)
	if err := w.PutStr0255(m.VendorName); err != nil {
		return nil, err
	}
	if err := w.PutStr0255(m.HardwareVersion); err != nil {
		return nil, err
	}
	if err := w.PutStr0255(m.Firmware); err != nil {
		return nil, err
	}
	if err := w.PutStr0255(m.DeviceID); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeSetupConnection decodes a SetupConnection message body.
func DecodeSetupConnection(b []byte) (SetupConnection, error) {
	r := codec.NewReader(b)
	var m SetupConnection

	proto, err := r.U8("protocol")
	if err != nil {
		return m, err
	}
	m.Protocol = Protocol(proto)

	if m.MinVersion, err = r.U16("min_version"); err != nil {
		return m, err
	}
	if m.MaxVersion, err = r.U16("max_version"); err != nil {
		return m, err
	}
	if m.Flags, err = r.U32("flags"); err != nil {
		return m, err
	}
	if m.EndpointHost, err = r.Str0255("endpoint_host"); err != nil {
		return m, err
	}
	if m.EndpointPort, err = r.U16("endpoint_port"); err != nil {
		return m, err
	}
	if m.VendorName, err = r.Str0255("vendor"); err != nil {
		return m, err
	}
	if m.HardwareVersion, err = r.Str0255("hardware_version"); err != nil {
		return m, err
	}
	if m.Firmware, err = r.Str0255("firmware"); err != nil {
		return m, err
	}
	if m.DeviceID, err = r.Str0255("device_id"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "setup_connection"}
	}
	return m, nil
}

// SetupConnectionSuccess is the responder's acceptance reply.
type SetupConnectionSuccess struct {
	UsedVersion uint16
	Flags       uint32
}

// Encode serializes the message body.
func (m SetupConnectionSuccess) Encode() ([]byte, error) {
	w := codec.NewWriter(6)
	w.PutU16(m.UsedVersion)
	w.PutU32(m.Flags)
	return w.Bytes(), nil
}

// DecodeSetupConnectionSuccess decodes a SetupConnectionSuccess message body.
func DecodeSetupConnectionSuccess(b []byte) (SetupConnectionSuccess, error) {
	r := codec.NewReader(b)
	var m SetupConnectionSuccess
	var err error
	if m.UsedVersion, err = r.U16("used_version"); err != nil {
		return m, err
	}
	if m.Flags, err = r.U32("flags"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "setup_connection_success"}
	}
	return m, nil
}

// SetupConnectionError is the responder's rejection reply.
type SetupConnectionError struct {
	Flags     uint32
	ErrorCode string
}

// Encode serializes the message body.
func (m SetupConnectionError) Encode() ([]byte, error) {
	w := codec.NewWriter(8 + len(m.ErrorCode))
	w.PutU32(m.Flags)
	if err := w.PutStr0255(m.ErrorCode); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeSetupConnectionError decodes a SetupConnectionError message body.
func DecodeSetupConnectionError(b []byte) (SetupConnectionError, error) {
	r := codec.NewReader(b)
	var m SetupConnectionError
	var err error
	if m.Flags, err = r.U32("flags"); err != nil {
		return m, err
	}
	if m.ErrorCode, err = r.Str0255("error_code"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "setup_connection_error"}
	}
	return m, nil
}

// Known setup error codes.
const (
	ErrorUnsupportedFeatureFlags = "unsupported-feature-flags"
	ErrorProtocolVersionMismatch = "protocol-version-mismatch"
	ErrorUnsupportedProtocol     = "unsupported-protocol"
)
