package attestation

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// PublicKeySize is the number of report-data bytes that carry the key.
	PublicKeySize = ed25519.PublicKeySize
	// ReportDataSize is the size of the TDX report-data field.
	ReportDataSize = 64
)

// ed25519SPKIPrefix is the DER header of an Ed25519 SubjectPublicKeyInfo:
// SEQUENCE { SEQUENCE { OID 1.3.101.112 } BIT STRING (33 bytes) }.
var ed25519SPKIPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

// ExtractPublicKey parses quote with parser and returns the public key
// embedded in the first 32 bytes of its report data.
func ExtractPublicKey(ctx context.Context, parser QuoteParser, quote string) ([]byte, error) {
	parsed, err := parser.ParseQuote(ctx, quote)
	if err != nil {
		return nil, err
	}
	return PublicKeyFromReportData(parsed.ReportData)
}

// PublicKeyFromReportData returns a copy of the first 32 bytes of reportData.
// Any remaining bytes are ignored.
func PublicKeyFromReportData(reportData []byte) ([]byte, error) {
	if len(reportData) < PublicKeySize {
		return nil, fmt.Errorf("%w: report data is %d bytes, need at least %d", ErrMalformedReportData, len(reportData), PublicKeySize)
	}
	key := make([]byte, PublicKeySize)
	copy(key, reportData[:PublicKeySize])
	return key, nil
}

// DecodeReportData decodes a hex report-data string.
func DecodeReportData(s string) ([]byte, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReportData, err)
	}
	return b, nil
}

// trimHexPrefix drops surrounding whitespace and a leading 0x or 0X.
func trimHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// ReportDataForKey returns the 64-byte report data that binds pub to a quote:
// the key followed by zero padding.
func ReportDataForKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(pub), PublicKeySize)
	}
	rd := make([]byte, ReportDataSize)
	copy(rd, pub)
	return rd, nil
}

// WrapSPKI wraps a raw Ed25519 public key in a DER SubjectPublicKeyInfo.
func WrapSPKI(raw []byte) ([]byte, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(raw), PublicKeySize)
	}
	der := make([]byte, 0, len(ed25519SPKIPrefix)+PublicKeySize)
	der = append(der, ed25519SPKIPrefix...)
	der = append(der, raw...)
	return der, nil
}

// ParseSPKI decodes a DER SubjectPublicKeyInfo and requires an Ed25519 key.
func ParseSPKI(der []byte) (ed25519.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("SPKI holds %T, not an Ed25519 key", pub)
	}
	return key, nil
}

// LoadQuote reads a quote file and trims surrounding whitespace.
func LoadQuote(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read quote file: %w", err)
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", fmt.Errorf("quote file %s is empty", path)
	}
	return q, nil
}
