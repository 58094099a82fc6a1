// Package proof defines the record that carries a signed claim together with
// the quote it was issued under.
package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/aspect-build/kycattest/internal/canonical"
)

// Record is the unit that is published after issuing and consumed by the
// verifier.
type Record struct {
	Identity  canonical.Claim `json:"identity"`
	Quote     string          `json:"quote"`
	Signature string          `json:"signature"`
}

// envelope is the published document shape, which nests the record under
// "response".
type envelope struct {
	Response *Record `json:"response"`
}

// Decode parses either a bare record or a {"response": record} envelope.
// Numbers in the identity are kept as json.Number so they re-encode exactly.
func Decode(data []byte) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	payload := data
	if inner, ok := fields["response"]; ok {
		if _, bare := fields["identity"]; !bare {
			payload = inner
		}
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Encode returns the compact JSON form of r.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// ID returns the content address of r: hex SHA-256 of its JSON form.
func (r *Record) ID() (string, error) {
	return r.IDFor("")
}

// IDFor returns the address of r as issued with taskData. Issuances of the
// same record for different task data get distinct ids; IDFor("") == ID().
func (r *Record) IDFor(taskData string) (string, error) {
	data, err := r.Encode()
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	h := sha256.New()
	h.Write(data)
	if taskData != "" {
		h.Write([]byte{'\n'})
		h.Write([]byte(taskData))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
