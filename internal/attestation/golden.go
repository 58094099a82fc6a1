package attestation

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// measurementSize is the size of an MRTD/RTMR digest (SHA-384).
const measurementSize = 48

// GoldenMeasurements maps registers to the digests a trusted image must
// report. Registers that are not present are not checked.
type GoldenMeasurements map[Register]string

// DefaultGoldenMeasurements returns the reference values of the released
// worker image.
//
// RTMR2 is left unset: the published reference digest has 95 hex digits and
// cannot match a 48-byte register. Supply it with a golden file.
func DefaultGoldenMeasurements() GoldenMeasurements {
	return GoldenMeasurements{
		MRTD:  "1e305ac8284517f73ada985bfc9fded48b23ed091ba8149678bb10207fb470c7903d7a8ddffa5a7be2a60e349bb75b6e",
		RTMR0: "9e314df50e8cc934afb28ceb6c96987a04ffea8180037f0d8e12b9690c0d6d34131ecacfd752334d70a40aefce572259",
		RTMR1: "410195998b3b31a38c11c39f032d72f0fbf70ceddfb3ad3e217b0ca448bf3c134bde1155a2d2a03a1c44536ef3d5c3f8",
		RTMR3: "6fc36ad1ea30601a1df88681cc38d112a6226a18a6fbd92993aba19c82ca5f3e41503bd23e3525f24145e56196807754",
	}
}

// LoadGoldenMeasurements reads a YAML mapping of register name to hex digest:
//
//	MRTD: 1e305ac8...
//	RTMR0: 9e314df5...
func LoadGoldenMeasurements(path string) (GoldenMeasurements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden file: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse golden file: %w", err)
	}

	g := GoldenMeasurements{}
	for k, v := range raw {
		reg := Register(strings.ToUpper(strings.TrimSpace(k)))
		if !knownRegister(reg) {
			return nil, fmt.Errorf("golden file: unknown register %q", k)
		}
		g[reg] = normalizeHex(v)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that every entry is a known register with a 48-byte hex digest.
func (g GoldenMeasurements) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("golden measurement set is empty")
	}
	for reg, v := range g {
		if !knownRegister(reg) {
			return fmt.Errorf("unknown register %q", reg)
		}
		b, err := hex.DecodeString(normalizeHex(v))
		if err != nil {
			return fmt.Errorf("%s: invalid hex: %w", reg, err)
		}
		if len(b) != measurementSize {
			return fmt.Errorf("%s: digest is %d bytes, want %d", reg, len(b), measurementSize)
		}
	}
	return nil
}

// Check compares m against the golden set. A configured register that is
// missing from m counts as a mismatch.
func (g GoldenMeasurements) Check(m Measurements) error {
	var bad []string
	for reg, want := range g {
		got, ok := m[reg]
		if !ok {
			bad = append(bad, string(reg)+" (missing)")
			continue
		}
		if normalizeHex(got) != normalizeHex(want) {
			bad = append(bad, string(reg))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: %s", ErrMeasurementMismatch, strings.Join(bad, ", "))
	}
	return nil
}

func knownRegister(r Register) bool {
	for _, k := range Registers {
		if r == k {
			return true
		}
	}
	return false
}
