//go:build bdd

package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/aspect-build/kycattest/internal/attestation"
)

// bddContext holds per-scenario state.
type bddContext struct {
	t *testing.T
	s *testServer

	recordID string
	record   json.RawMessage

	// last HTTP response
	lastStatus int
	lastBody   []byte
}

func (b *bddContext) reset() {
	*b = bddContext{t: b.t}
}

// ── Given steps ─────────────────────────────────────────────────────

func (b *bddContext) theServerIsRunning() error {
	if b.s != nil {
		return nil
	}
	b.s = setupTestServer(b.t)
	return nil
}

func (b *bddContext) aRecordIsIssuedForIdentity(doc *godog.DocString) error {
	var identity map[string]any
	if err := json.Unmarshal([]byte(doc.Content), &identity); err != nil {
		return fmt.Errorf("identity JSON: %w", err)
	}
	body, _ := json.Marshal(map[string]any{"identity": identity, "public_key": b.s.recvPub})
	resp, err := adminRequest(http.MethodPost, b.s.ts.URL+"/v1/records", body)
	if err != nil {
		return err
	}
	if err := b.capture(resp); err != nil {
		return err
	}
	if b.lastStatus != http.StatusCreated {
		return fmt.Errorf("issue: status %d, body: %s", b.lastStatus, b.lastBody)
	}
	var out struct {
		ProofOfTask string `json:"proof_of_task"`
	}
	if err := json.Unmarshal(b.lastBody, &out); err != nil {
		return err
	}
	b.recordID = out.ProofOfTask

	resp, err = http.Get(b.s.ts.URL + "/v1/records/" + b.recordID)
	if err != nil {
		return err
	}
	if err := b.capture(resp); err != nil {
		return err
	}
	var got struct {
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(b.lastBody, &got); err != nil {
		return err
	}
	b.record = got.Record
	return nil
}

func (b *bddContext) theQuoteServiceReportsADifferent(register string) error {
	b.s.pccs.set(func(f *fakePCCS) {
		f.measurements[attestation.Register(register)] = strings.Repeat("00", 48)
	})
	return nil
}

func (b *bddContext) theQuoteServiceIsDown() error {
	b.s.pccs.set(func(f *fakePCCS) { f.status = http.StatusServiceUnavailable })
	return nil
}

// ── When steps ──────────────────────────────────────────────────────

func (b *bddContext) iVerifyThePublishedRecord() error {
	return b.post("/v1/verify", b.record)
}

func (b *bddContext) iVerifyThePublishedRecordWithClaimChanged(field, value string) error {
	var rec map[string]any
	if err := json.Unmarshal(b.record, &rec); err != nil {
		return err
	}
	identity, ok := rec["identity"].(map[string]any)
	if !ok {
		return fmt.Errorf("record has no identity: %s", b.record)
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	identity[field] = v
	body, _ := json.Marshal(rec)
	return b.post("/v1/verify", body)
}

func (b *bddContext) iVerifyTheStoredRecord() error {
	return b.post("/v1/records/"+b.recordID+"/verify", nil)
}

func (b *bddContext) iPOSTToWithJSON(path string, doc *godog.DocString) error {
	return b.post(path, []byte(doc.Content))
}

func (b *bddContext) post(path string, body []byte) error {
	resp, err := http.Post(b.s.ts.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return b.capture(resp)
}

func (b *bddContext) capture(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	b.lastStatus = resp.StatusCode
	b.lastBody = body
	return nil
}

// ── Then steps ──────────────────────────────────────────────────────

func (b *bddContext) theResponseStatusShouldBe(expected int) error {
	if b.lastStatus != expected {
		return fmt.Errorf("expected status %d, got %d (body: %s)", expected, b.lastStatus, b.lastBody)
	}
	return nil
}

func (b *bddContext) responseField(key string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(b.lastBody, &m); err != nil {
		return "", fmt.Errorf("parse response JSON: %w", err)
	}
	val, ok := m[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in response: %s", key, b.lastBody)
	}
	return fmt.Sprint(val), nil
}

func (b *bddContext) theResponseJSONShouldBe(key, expected string) error {
	got, err := b.responseField(key)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("expected %q = %q, got %q", key, expected, got)
	}
	return nil
}

func (b *bddContext) theResponseJSONShouldContain(key, expected string) error {
	got, err := b.responseField(key)
	if err != nil {
		return err
	}
	if !strings.Contains(got, expected) {
		return fmt.Errorf("expected %q to contain %q, got %q", key, expected, got)
	}
	return nil
}

func (b *bddContext) thePublishedClaimShouldBe(expected string) error {
	want := fmt.Sprintf(`"identity":%s`, expected)
	if !strings.Contains(string(b.record), want) {
		return fmt.Errorf("published record %s does not carry %s", b.record, expected)
	}
	return nil
}

// ── Suite runner ────────────────────────────────────────────────────

func TestBDD(t *testing.T) {
	b := &bddContext{t: t}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				b.reset()
				return ctx, nil
			})

			// Given
			sc.Step(`^the server is running$`, b.theServerIsRunning)
			sc.Step(`^a record is issued for identity:$`, b.aRecordIsIssuedForIdentity)
			sc.Step(`^the quote service reports a different "([^"]*)"$`, b.theQuoteServiceReportsADifferent)
			sc.Step(`^the quote service is down$`, b.theQuoteServiceIsDown)

			// When
			sc.Step(`^I verify the published record$`, b.iVerifyThePublishedRecord)
			sc.Step(`^I verify the published record with "([^"]*)" changed to "([^"]*)"$`, b.iVerifyThePublishedRecordWithClaimChanged)
			sc.Step(`^I verify the stored record$`, b.iVerifyTheStoredRecord)
			sc.Step(`^I POST to "([^"]*)" with JSON:$`, b.iPOSTToWithJSON)

			// Then
			sc.Step(`^the response status should be (\d+)$`, b.theResponseStatusShouldBe)
			sc.Step(`^the response JSON "([^"]*)" should be "([^"]*)"$`, b.theResponseJSONShouldBe)
			sc.Step(`^the response JSON "([^"]*)" should contain "([^"]*)"$`, b.theResponseJSONShouldContain)
			sc.Step(`^the published claim should be '([^']*)'$`, b.thePublishedClaimShouldBe)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("BDD tests failed")
	}
}

func init() {
	// Suppress Gin debug output during BDD tests
	os.Setenv("GIN_MODE", "release")
}
