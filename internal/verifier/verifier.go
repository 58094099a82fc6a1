// Package verifier checks that a record's signature was produced by the key
// its attestation quote commits to.
package verifier

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/canonical"
	"github.com/aspect-build/kycattest/internal/logx"
	"github.com/aspect-build/kycattest/internal/proof"
	"github.com/aspect-build/kycattest/internal/redact"
)

var (
	ErrMissingField      = errors.New("missing record field")
	ErrSignatureEncoding = errors.New("signature is not valid base64")
	ErrBadSignature      = errors.New("signature does not match")
)

// Options configures a Verifier.
type Options struct {
	// Parser is required.
	Parser attestation.QuoteParser
	// Golden is consulted only when EnforceMeasurements is set. Nil means
	// attestation.DefaultGoldenMeasurements().
	Golden              attestation.GoldenMeasurements
	EnforceMeasurements bool
	// Timeout bounds quote parsing. Zero means
	// attestation.DefaultQuoteParseTimeout.
	Timeout time.Duration
}

// Result is the outcome of Check. Reason is nil exactly when Valid is true.
type Result struct {
	Valid  bool
	Reason error
}

// Verifier is stateless after construction and safe for concurrent use.
type Verifier struct {
	parser  attestation.QuoteParser
	golden  attestation.GoldenMeasurements
	enforce bool
	timeout time.Duration
}

func New(opts Options) (*Verifier, error) {
	if opts.Parser == nil {
		return nil, fmt.Errorf("verifier: parser is required")
	}
	v := &Verifier{
		parser:  opts.Parser,
		golden:  opts.Golden,
		enforce: opts.EnforceMeasurements,
		timeout: opts.Timeout,
	}
	if v.timeout <= 0 {
		v.timeout = attestation.DefaultQuoteParseTimeout
	}
	if v.enforce {
		if v.golden == nil {
			v.golden = attestation.DefaultGoldenMeasurements()
		}
		if err := v.golden.Validate(); err != nil {
			return nil, fmt.Errorf("verifier: %w", err)
		}
	}
	return v, nil
}

// EnforcesMeasurements reports whether Check gates on golden measurements.
func (v *Verifier) EnforcesMeasurements() bool {
	return v.enforce
}

// Verify reports whether rec is authentic. Every failure, including a
// panicking parser, is logged and reported as false.
func (v *Verifier) Verify(ctx context.Context, rec *proof.Record) bool {
	res := v.Check(ctx, rec)
	if !res.Valid {
		var claim canonical.Claim
		if rec != nil {
			claim = rec.Identity
		}
		logx.Warnf("verification failed: %s", redact.ForClaim(claim).Error(res.Reason))
	}
	return res.Valid
}

// Check runs verification and returns the first failure as Reason.
func (v *Verifier) Check(ctx context.Context, rec *proof.Record) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reason: fmt.Errorf("verification panicked: %v", r)}
		}
	}()
	if err := v.check(ctx, rec); err != nil {
		return Result{Reason: err}
	}
	return Result{Valid: true}
}

func (v *Verifier) check(ctx context.Context, rec *proof.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record", ErrMissingField)
	}
	var missing []string
	if rec.Identity == nil {
		missing = append(missing, "identity")
	}
	if strings.TrimSpace(rec.Quote) == "" {
		missing = append(missing, "quote")
	}
	if rec.Signature == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	parsed, err := v.parser.ParseQuote(ctx, rec.Quote)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("%w: parser returned no result", attestation.ErrQuoteParse)
	}

	raw, err := attestation.PublicKeyFromReportData(parsed.ReportData)
	if err != nil {
		return err
	}
	der, err := attestation.WrapSPKI(raw)
	if err != nil {
		return err
	}
	pub, err := attestation.ParseSPKI(der)
	if err != nil {
		return err
	}

	msg, err := canonical.Encode(rec.Identity)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(rec.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureEncoding, err)
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrBadSignature
	}

	if v.enforce {
		if err := v.golden.Check(parsed.Measurements); err != nil {
			return err
		}
	}
	return nil
}
