package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aspect-build/kycattest/internal/logx"
)

const (
	// DefaultQuoteParseURL is the public DCAP quote-parse endpoint.
	DefaultQuoteParseURL = "https://pccs.scrtlabs.com/dcap-tools/quote-parse"
	// DefaultQuoteParseTimeout bounds a single call to the parsing service.
	DefaultQuoteParseTimeout = 10 * time.Second

	maxParseResponseBytes = 1 << 20
)

type quoteParseResponse struct {
	Quote *struct {
		ReportData string `json:"report_data"`
		MrTD       string `json:"mr_td"`
		RTMR0      string `json:"rtmr0"`
		RTMR1      string `json:"rtmr1"`
		RTMR2      string `json:"rtmr2"`
		RTMR3      string `json:"rtmr3"`
	} `json:"quote"`
}

// PCCSParser delegates quote parsing to a remote quote-parse service.
type PCCSParser struct {
	endpoint string
	client   *http.Client
}

// NewPCCSParser returns a parser for endpoint. Zero values select the
// defaults.
func NewPCCSParser(endpoint string, timeout time.Duration) *PCCSParser {
	if endpoint == "" {
		endpoint = DefaultQuoteParseURL
	}
	if timeout <= 0 {
		timeout = DefaultQuoteParseTimeout
	}
	return &PCCSParser{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// ParseQuote posts quote as a form value and reads report data and
// measurements from the JSON response.
func (p *PCCSParser) ParseQuote(ctx context.Context, quote string) (*ParsedQuote, error) {
	form := url.Values{"quote": {quote}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrQuoteParse, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteParse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxParseResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrQuoteParse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: service returned %d", ErrQuoteParse, resp.StatusCode)
	}

	var parsed quoteParseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrQuoteParse, err)
	}
	if parsed.Quote == nil || strings.TrimSpace(parsed.Quote.ReportData) == "" {
		return nil, fmt.Errorf("%w: report_data missing in quote-parse response", ErrQuoteParse)
	}
	logx.Debugf("quote.parse endpoint=%s report_data=%s", p.endpoint, parsed.Quote.ReportData)

	reportData, err := DecodeReportData(parsed.Quote.ReportData)
	if err != nil {
		return nil, err
	}

	m := Measurements{}
	for reg, v := range map[Register]string{
		MRTD:  parsed.Quote.MrTD,
		RTMR0: parsed.Quote.RTMR0,
		RTMR1: parsed.Quote.RTMR1,
		RTMR2: parsed.Quote.RTMR2,
		RTMR3: parsed.Quote.RTMR3,
	} {
		if v = normalizeHex(v); v != "" {
			m[reg] = v
		}
	}

	return &ParsedQuote{ReportData: reportData, Measurements: m}, nil
}

func normalizeHex(s string) string {
	return strings.ToLower(trimHexPrefix(s))
}
