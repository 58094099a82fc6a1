package verifier

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/canonical"
	"github.com/aspect-build/kycattest/internal/proof"
	"github.com/aspect-build/kycattest/internal/signer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// hexParser treats the quote text as hex report data and reports a fixed
// set of measurements.
type hexParser struct {
	measurements attestation.Measurements
}

func (p hexParser) ParseQuote(_ context.Context, quote string) (*attestation.ParsedQuote, error) {
	rd, err := attestation.DecodeReportData(quote)
	if err != nil {
		return nil, err
	}
	return &attestation.ParsedQuote{ReportData: rd, Measurements: p.measurements}, nil
}

type funcParser func(ctx context.Context, quote string) (*attestation.ParsedQuote, error)

func (f funcParser) ParseQuote(ctx context.Context, quote string) (*attestation.ParsedQuote, error) {
	return f(ctx, quote)
}

func goldenMeasurements() attestation.Measurements {
	m := attestation.Measurements{}
	for reg, v := range attestation.DefaultGoldenMeasurements() {
		m[reg] = v
	}
	return m
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv
}

func quoteFor(t *testing.T, priv ed25519.PrivateKey) string {
	t.Helper()
	rd, err := attestation.ReportDataForKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("ReportDataForKey: %v", err)
	}
	return hex.EncodeToString(rd)
}

func issue(t *testing.T, priv ed25519.PrivateKey, claim canonical.Claim) *proof.Record {
	t.Helper()
	sig, err := signer.SignWithKey(claim, priv)
	if err != nil {
		t.Fatalf("SignWithKey: %v", err)
	}
	return &proof.Record{Identity: claim, Quote: quoteFor(t, priv), Signature: sig}
}

func newVerifier(t *testing.T, opts Options) *Verifier {
	t.Helper()
	if opts.Parser == nil {
		opts.Parser = hexParser{measurements: goldenMeasurements()}
	}
	v, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func minimalClaim() canonical.Claim {
	return canonical.Claim{"id_number": "X123", "over_18": true, "over_21": false}
}

func TestVerify_ConcreteScenario(t *testing.T) {
	claim := minimalClaim()
	msg, err := canonical.Encode(claim)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(msg) != `{"id_number":"X123","over_18":true,"over_21":false}` {
		t.Fatalf("canonical form %s", msg)
	}

	rec := issue(t, newKey(t), claim)
	v := newVerifier(t, Options{EnforceMeasurements: true})
	if res := v.Check(context.Background(), rec); !res.Valid {
		t.Fatalf("expected valid, got %v", res.Reason)
	}
	if !v.Verify(context.Background(), rec) {
		t.Fatal("Verify returned false")
	}
}

func TestVerify_RoundTripVariedClaims(t *testing.T) {
	priv := newKey(t)
	v := newVerifier(t, Options{})
	claims := []canonical.Claim{
		{"id_number": nil, "over_18": false, "over_21": false},
		{"z": "last", "a": "first", "m": 3},
		{"note": "line\nbreak \"quoted\" ünïcödé"},
		{"score": 0.1, "count": int64(-7)},
	}
	for i, c := range claims {
		if !v.Verify(context.Background(), issue(t, priv, c)) {
			t.Errorf("claim %d did not verify", i)
		}
	}
}

func TestVerify_TamperedIdentity(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	rec.Identity["over_21"] = true

	res := newVerifier(t, Options{}).Check(context.Background(), rec)
	if res.Valid || !errors.Is(res.Reason, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %+v", res)
	}
}

func TestVerify_TamperedSignatureBits(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	sig, _ := base64.StdEncoding.DecodeString(rec.Signature)
	v := newVerifier(t, Options{})

	for _, bit := range []int{0, 100, 511} {
		flipped := append([]byte(nil), sig...)
		flipped[bit/8] ^= 1 << (bit % 8)
		tampered := *rec
		tampered.Signature = base64.StdEncoding.EncodeToString(flipped)
		if v.Verify(context.Background(), &tampered) {
			t.Errorf("bit %d: tampered signature verified", bit)
		}
	}
}

func TestVerify_TamperedEmbeddedKey(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	rd, _ := hex.DecodeString(rec.Quote)
	rd[5] ^= 0x01
	rec.Quote = hex.EncodeToString(rd)

	if newVerifier(t, Options{}).Verify(context.Background(), rec) {
		t.Fatal("record with altered report data verified")
	}
}

func TestVerify_QuoteFromOtherKey(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	rec.Quote = quoteFor(t, newKey(t))

	res := newVerifier(t, Options{}).Check(context.Background(), rec)
	if res.Valid || !errors.Is(res.Reason, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %+v", res)
	}
}

func TestVerify_MeasurementGating(t *testing.T) {
	priv := newKey(t)
	rec := issue(t, priv, minimalClaim())

	drifted := goldenMeasurements()
	drifted[attestation.RTMR3] = "00" + drifted[attestation.RTMR3][2:]

	partial := goldenMeasurements()
	delete(partial, attestation.MRTD)

	upper := attestation.Measurements{}
	for reg, val := range goldenMeasurements() {
		upper[reg] = "0x" + fmt.Sprintf("%X", mustHex(t, val))
	}

	cases := []struct {
		name         string
		enforce      bool
		measurements attestation.Measurements
		want         bool
	}{
		{"golden", true, goldenMeasurements(), true},
		{"uppercase golden", true, upper, true},
		{"drifted register", true, drifted, false},
		{"missing register", true, partial, false},
		{"drifted but not enforced", false, drifted, true},
		{"none but not enforced", false, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newVerifier(t, Options{
				Parser:              hexParser{measurements: tc.measurements},
				EnforceMeasurements: tc.enforce,
			})
			res := v.Check(context.Background(), rec)
			if res.Valid != tc.want {
				t.Fatalf("valid=%v, want %v (reason %v)", res.Valid, tc.want, res.Reason)
			}
			if !tc.want && !errors.Is(res.Reason, attestation.ErrMeasurementMismatch) {
				t.Fatalf("expected ErrMeasurementMismatch, got %v", res.Reason)
			}
		})
	}
}

func TestVerify_CustomGolden(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	golden := attestation.GoldenMeasurements{attestation.RTMR2: hex.EncodeToString(make([]byte, 48))}

	v := newVerifier(t, Options{Golden: golden, EnforceMeasurements: true})
	if res := v.Check(context.Background(), rec); !errors.Is(res.Reason, attestation.ErrMeasurementMismatch) {
		t.Fatalf("expected mismatch on absent RTMR2, got %+v", res)
	}

	m := goldenMeasurements()
	m[attestation.RTMR2] = golden[attestation.RTMR2]
	v = newVerifier(t, Options{Parser: hexParser{measurements: m}, Golden: golden, EnforceMeasurements: true})
	if res := v.Check(context.Background(), rec); !res.Valid {
		t.Fatalf("expected valid, got %v", res.Reason)
	}
}

func TestVerify_MalformedInputs(t *testing.T) {
	good := issue(t, newKey(t), minimalClaim())
	v := newVerifier(t, Options{})

	cases := []struct {
		name string
		rec  *proof.Record
		want error
	}{
		{"nil record", nil, ErrMissingField},
		{"missing identity", &proof.Record{Quote: good.Quote, Signature: good.Signature}, ErrMissingField},
		{"missing quote", &proof.Record{Identity: good.Identity, Signature: good.Signature}, ErrMissingField},
		{"blank quote", &proof.Record{Identity: good.Identity, Quote: "  ", Signature: good.Signature}, ErrMissingField},
		{"missing signature", &proof.Record{Identity: good.Identity, Quote: good.Quote}, ErrMissingField},
		{"non-hex report data", &proof.Record{Identity: good.Identity, Quote: "zz-not-hex", Signature: good.Signature}, attestation.ErrMalformedReportData},
		{"short report data", &proof.Record{Identity: good.Identity, Quote: "abcd", Signature: good.Signature}, attestation.ErrMalformedReportData},
		{"bad base64", &proof.Record{Identity: good.Identity, Quote: good.Quote, Signature: "***"}, ErrSignatureEncoding},
		{"short signature", &proof.Record{Identity: good.Identity, Quote: good.Quote, Signature: "c2ln"}, ErrBadSignature},
		{"unencodable identity", &proof.Record{Identity: canonical.Claim{"nested": map[string]any{}}, Quote: good.Quote, Signature: good.Signature}, canonical.ErrEncoding},
		{"empty identity", &proof.Record{Identity: canonical.Claim{}, Quote: good.Quote, Signature: good.Signature}, canonical.ErrEncoding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Check(context.Background(), tc.rec)
			if res.Valid {
				t.Fatal("expected invalid")
			}
			if !errors.Is(res.Reason, tc.want) {
				t.Fatalf("reason %v, want %v", res.Reason, tc.want)
			}
			if v.Verify(context.Background(), tc.rec) {
				t.Fatal("Verify returned true")
			}
		})
	}
}

func TestVerify_ParserFailures(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())

	cases := []struct {
		name   string
		parser funcParser
		want   error
	}{
		{"error", func(context.Context, string) (*attestation.ParsedQuote, error) {
			return nil, fmt.Errorf("%w: status 502", attestation.ErrQuoteParse)
		}, attestation.ErrQuoteParse},
		{"nil result", func(context.Context, string) (*attestation.ParsedQuote, error) {
			return nil, nil
		}, attestation.ErrQuoteParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newVerifier(t, Options{Parser: tc.parser})
			res := v.Check(context.Background(), rec)
			if res.Valid || !errors.Is(res.Reason, tc.want) {
				t.Fatalf("got %+v, want %v", res, tc.want)
			}
		})
	}
}

func TestVerify_PanickingParserIsRecovered(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	v := newVerifier(t, Options{Parser: funcParser(func(context.Context, string) (*attestation.ParsedQuote, error) {
		panic("boom")
	})})
	if v.Verify(context.Background(), rec) {
		t.Fatal("expected false")
	}
	if res := v.Check(context.Background(), rec); res.Reason == nil {
		t.Fatal("expected a reason")
	}
}

func TestVerify_ParseTimeout(t *testing.T) {
	rec := issue(t, newKey(t), minimalClaim())
	slow := funcParser(func(ctx context.Context, _ string) (*attestation.ParsedQuote, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", attestation.ErrQuoteParse, ctx.Err())
	})
	v := newVerifier(t, Options{Parser: slow, Timeout: 20 * time.Millisecond})

	start := time.Now()
	res := v.Check(context.Background(), rec)
	if res.Valid || !errors.Is(res.Reason, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %+v", res)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestVerify_Concurrent(t *testing.T) {
	priv := newKey(t)
	v := newVerifier(t, Options{EnforceMeasurements: true})

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claim := canonical.Claim{"id_number": fmt.Sprintf("ID%04d", i), "over_18": i%2 == 0, "over_21": false}
			sig, err := signer.SignWithKey(claim, priv)
			if err != nil {
				errs <- err.Error()
				return
			}
			rd, _ := attestation.ReportDataForKey(priv.Public().(ed25519.PublicKey))
			rec := &proof.Record{Identity: claim, Quote: hex.EncodeToString(rd), Signature: sig}
			if !v.Verify(context.Background(), rec) {
				errs <- fmt.Sprintf("record %d failed", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without parser")
	}
	bad := attestation.GoldenMeasurements{attestation.MRTD: "abcd"}
	if _, err := New(Options{Parser: hexParser{}, Golden: bad, EnforceMeasurements: true}); err == nil {
		t.Fatal("expected error for short golden digest")
	}
	v, err := New(Options{Parser: hexParser{}, Golden: bad})
	if err != nil {
		t.Fatalf("golden should be ignored when not enforced: %v", err)
	}
	if v.EnforcesMeasurements() {
		t.Fatal("enforcement should be off")
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	return b
}
