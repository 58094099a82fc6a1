package attestation

import (
	"context"
	"errors"
)

var (
	// ErrQuoteParse covers an unreachable parsing service, a timeout, and a
	// response without report data.
	ErrQuoteParse = errors.New("quote parse error")
	// ErrMalformedReportData is returned when report data is not hex or is
	// too short to carry a public key.
	ErrMalformedReportData = errors.New("malformed report data")
	// ErrInvalidKeyLength is returned when a raw Ed25519 key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("invalid key length")
	// ErrMeasurementMismatch is returned when a quote's measurement registers
	// differ from the golden set.
	ErrMeasurementMismatch = errors.New("measurement mismatch")
)

// Register names a TDX measurement register.
type Register string

const (
	MRTD  Register = "MRTD"
	RTMR0 Register = "RTMR0"
	RTMR1 Register = "RTMR1"
	RTMR2 Register = "RTMR2"
	RTMR3 Register = "RTMR3"
)

// Registers lists the registers in report order.
var Registers = []Register{MRTD, RTMR0, RTMR1, RTMR2, RTMR3}

// Measurements maps a register to its lowercase hex digest. Registers the
// parser could not read are absent.
type Measurements map[Register]string

// ParsedQuote is the part of a quote the verifier consumes.
type ParsedQuote struct {
	ReportData   []byte
	Measurements Measurements
}

// QuoteParser turns an opaque quote into its report data and measurements.
type QuoteParser interface {
	ParseQuote(ctx context.Context, quote string) (*ParsedQuote, error)
}

// InstanceInfo describes the TEE instance this process runs in, as reported
// by the dstack guest agent.
type InstanceInfo struct {
	AppID      string `json:"app_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	TCBInfo    string `json:"tcb_info,omitempty"`
	AppCert    string `json:"app_cert,omitempty"`
}

// Collector fetches local instance information from the TEE runtime.
type Collector interface {
	Collect(ctx context.Context) (InstanceInfo, error)
}
