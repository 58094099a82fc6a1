package attestation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPCCSParser_ParsesReportDataAndMeasurements(t *testing.T) {
	var gotQuote, gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotQuote = r.PostForm.Get("quote")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quote":{"report_data":"` + strings.Repeat("11", 64) + `","mr_td":"AA` + strings.Repeat("00", 47) + `","rtmr0":"` + strings.Repeat("bb", 48) + `"}}`))
	}))
	defer ts.Close()

	p := NewPCCSParser(ts.URL, time.Second)
	parsed, err := p.ParseQuote(context.Background(), "04000200+/=")
	if err != nil {
		t.Fatalf("ParseQuote: %v", err)
	}
	if gotQuote != "04000200+/=" {
		t.Fatalf("server saw quote %q", gotQuote)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("content type %q", gotContentType)
	}
	if len(parsed.ReportData) != 64 || parsed.ReportData[0] != 0x11 {
		t.Fatalf("report data %x", parsed.ReportData)
	}
	if parsed.Measurements[MRTD] != "aa"+strings.Repeat("00", 47) {
		t.Fatalf("MRTD %q", parsed.Measurements[MRTD])
	}
	if parsed.Measurements[RTMR0] != strings.Repeat("bb", 48) {
		t.Fatalf("RTMR0 %q", parsed.Measurements[RTMR0])
	}
	if _, ok := parsed.Measurements[RTMR1]; ok {
		t.Fatal("RTMR1 should be absent")
	}
}

func TestPCCSParser_UppercaseHexPrefix(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quote":{"report_data":"0X` + strings.Repeat("2A", 64) + `","mr_td":"0X` + strings.Repeat("CC", 48) + `"}}`))
	}))
	defer ts.Close()

	parsed, err := NewPCCSParser(ts.URL, time.Second).ParseQuote(context.Background(), "00")
	if err != nil {
		t.Fatalf("ParseQuote: %v", err)
	}
	if len(parsed.ReportData) != 64 || parsed.ReportData[63] != 0x2a {
		t.Fatalf("report data %x", parsed.ReportData)
	}
	if parsed.Measurements[MRTD] != strings.Repeat("cc", 48) {
		t.Fatalf("MRTD %q", parsed.Measurements[MRTD])
	}
}

func TestPCCSParser_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrQuoteParse},
		{"bad json", http.StatusOK, `not json`, ErrQuoteParse},
		{"missing quote", http.StatusOK, `{}`, ErrQuoteParse},
		{"missing report data", http.StatusOK, `{"quote":{"mr_td":"00"}}`, ErrQuoteParse},
		{"non-hex report data", http.StatusOK, `{"quote":{"report_data":"xyz"}}`, ErrMalformedReportData},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			}))
			defer ts.Close()

			_, err := NewPCCSParser(ts.URL, time.Second).ParseQuote(context.Background(), "q")
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
		})
	}
}

func TestPCCSParser_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewPCCSParser(ts.URL, 5*time.Second).ParseQuote(ctx, "q")
	if !errors.Is(err, ErrQuoteParse) {
		t.Fatalf("expected ErrQuoteParse, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("parse did not honour the context deadline")
	}
}

func TestPCCSParser_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewPCCSParser(url, time.Second).ParseQuote(context.Background(), "q")
	if !errors.Is(err, ErrQuoteParse) {
		t.Fatalf("expected ErrQuoteParse, got %v", err)
	}
}
