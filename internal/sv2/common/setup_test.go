package common

import "testing"

func TestSetupConnectionRoundTrip(t *testing.T) {
	m := SetupConnection{
		Protocol:        ProtocolMining,
		MinVersion:      2,
		MaxVersion:      2,
		Flags:           FlagRequiresStandardJobs | FlagRequiresVersionRolling,
		EndpointHost:    "pool.example.com",
		EndpointPort:    34254,
		VendorName:      "Bitmain",
		HardwareVersion: "S19",
		Firmware:        "1.2.3",
		DeviceID:        "rig-01",
	}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSetupConnection(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
	if !HasStandardJobs(got.Flags) || !HasVersionRolling(got.Flags) {
		t.Fatalf("expected standard-jobs and version-rolling flags set")
	}
	if HasWorkSelection(got.Flags) {
		t.Fatalf("work-selection flag unexpectedly set")
	}
}

func TestSetupConnectionSuccessRoundTrip(t *testing.T) {
	m := SetupConnectionSuccess{UsedVersion: 2, Flags: FlagRequiresVersionRolling}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSetupConnectionSuccess(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestSetupConnectionErrorRoundTrip(t *testing.T) {
	m := SetupConnectionError{Flags: FlagRequiresWorkSelection, ErrorCode: ErrorUnsupportedFeatureFlags}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSetupConnectionError(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestDecodeSetupConnectionRejectsTrailingBytes(t *testing.T) {
	m := SetupConnection{Protocol: ProtocolMining, EndpointHost: "h", VendorName: "v", HardwareVersion: "hv", Firmware: "f", DeviceID: "d"}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b = append(b, 0xff)
	if _, err := DecodeSetupConnection(b); err == nil {
		t.Fatalf("expected trailing-bytes error")
	}
}
