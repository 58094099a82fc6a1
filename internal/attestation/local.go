package attestation

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	tabi "github.com/google/go-tdx-guest/abi"
)

// LocalParser parses raw TDX v4 quotes in-process. It reads the quote body
// only; the quote's signature chain is not checked.
type LocalParser struct{}

func NewLocalParser() *LocalParser {
	return &LocalParser{}
}

// ParseQuote accepts the quote as hex (optionally 0x-prefixed) or base64.
func (p *LocalParser) ParseQuote(ctx context.Context, quote string) (*ParsedQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteParse, err)
	}
	raw, err := decodeQuoteText(quote)
	if err != nil {
		return nil, err
	}

	v4, err := tabi.QuoteToProto(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteParse, err)
	}
	body := v4.GetTdQuoteBody()
	if body == nil {
		return nil, fmt.Errorf("%w: quote has no TD quote body", ErrQuoteParse)
	}

	m := Measurements{}
	if mrtd := body.GetMrTd(); len(mrtd) > 0 {
		m[MRTD] = hex.EncodeToString(mrtd)
	}
	for i, rtmr := range body.GetRtmrs() {
		if i >= 4 {
			break
		}
		m[Registers[i+1]] = hex.EncodeToString(rtmr)
	}

	rd := body.GetReportData()
	reportData := make([]byte, len(rd))
	copy(reportData, rd)
	return &ParsedQuote{ReportData: reportData, Measurements: m}, nil
}

func decodeQuoteText(quote string) ([]byte, error) {
	s := strings.TrimSpace(quote)
	if s == "" {
		return nil, fmt.Errorf("%w: empty quote", ErrQuoteParse)
	}
	if b, err := hex.DecodeString(trimHexPrefix(s)); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: quote is neither hex nor base64", ErrQuoteParse)
}
