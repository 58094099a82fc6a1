package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/crypto"
)

const (
	QuoteParserRemote = "remote"
	QuoteParserLocal  = "local"
)

// Default key and quote locations: the provisioned TEE paths first, then the
// development copies.
const (
	DefaultKeyPath           = "./crypto/docker_private_key_ed25519.pem"
	DefaultKeyFallbackPath   = "./data/private_key.pem"
	DefaultQuotePath         = "./crypto/docker_attestation_ed25519.txt"
	DefaultQuoteFallbackPath = "./data/quote.txt"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	AdminToken  string
	MasterKey   [crypto.KeySize]byte
	DBPath      string
	ListenAddr  string
	CORSOrigins []string

	// KeyPath and QuotePath are empty when no candidate file exists, which
	// disables issuing.
	KeyPath   string
	QuotePath string

	QuoteParser         string
	QuoteParseURL       string
	QuoteParseTimeout   time.Duration
	EnforceMeasurements bool
	GoldenFile          string
	DstackEndpoint      string
}

// LoadConfig loads server configuration from environment variables.
func LoadConfig() (*Config, error) {
	adminToken := os.Getenv("KYCATTEST_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("KYCATTEST_ADMIN_TOKEN is required")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("KYCATTEST_ADMIN_TOKEN must be at least 16 characters")
	}

	masterHex := os.Getenv("KYCATTEST_MASTER_KEY")
	if masterHex == "" {
		return nil, fmt.Errorf("KYCATTEST_MASTER_KEY is required (64 hex characters)")
	}
	masterKey, err := crypto.ParseKeyHex(masterHex)
	if err != nil {
		return nil, fmt.Errorf("KYCATTEST_MASTER_KEY: %w", err)
	}

	parser, err := ParseQuoteParser(envOr("KYCATTEST_QUOTE_PARSER", QuoteParserRemote))
	if err != nil {
		return nil, fmt.Errorf("KYCATTEST_QUOTE_PARSER: %w", err)
	}

	timeout := attestation.DefaultQuoteParseTimeout
	if v := strings.TrimSpace(os.Getenv("KYCATTEST_QUOTE_PARSE_TIMEOUT")); v != "" {
		timeout, err = time.ParseDuration(v)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("KYCATTEST_QUOTE_PARSE_TIMEOUT must be a positive duration such as 10s")
		}
	}

	enforce, err := envBool("KYCATTEST_ENFORCE_MEASUREMENTS", true)
	if err != nil {
		return nil, err
	}

	var corsOrigins []string
	if v := os.Getenv("KYCATTEST_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		AdminToken:  adminToken,
		MasterKey:   masterKey,
		DBPath:      envOr("KYCATTEST_DB_PATH", "kycattest.db"),
		ListenAddr:  envOr("KYCATTEST_LISTEN_ADDR", ":8080"),
		CORSOrigins: corsOrigins,
		KeyPath: ResolvePath(
			envOr("KYCATTEST_KEY_PATH", DefaultKeyPath),
			envOr("KYCATTEST_KEY_FALLBACK_PATH", DefaultKeyFallbackPath),
		),
		QuotePath: ResolvePath(
			envOr("KYCATTEST_QUOTE_PATH", DefaultQuotePath),
			envOr("KYCATTEST_QUOTE_FALLBACK_PATH", DefaultQuoteFallbackPath),
		),
		QuoteParser:         parser,
		QuoteParseURL:       envOr("KYCATTEST_QUOTE_PARSE_URL", attestation.DefaultQuoteParseURL),
		QuoteParseTimeout:   timeout,
		EnforceMeasurements: enforce,
		GoldenFile:          strings.TrimSpace(os.Getenv("KYCATTEST_GOLDEN_FILE")),
		DstackEndpoint:      strings.TrimSpace(os.Getenv("KYCATTEST_DSTACK_ENDPOINT")),
	}, nil
}

// ParseQuoteParser normalizes a quote parser name and rejects unknown ones.
func ParseQuoteParser(name string) (string, error) {
	parser := strings.ToLower(strings.TrimSpace(name))
	if parser != QuoteParserRemote && parser != QuoteParserLocal {
		return "", fmt.Errorf("quote parser must be %q or %q, got %q", QuoteParserRemote, QuoteParserLocal, name)
	}
	return parser, nil
}

// ResolvePath returns the first candidate that names an existing regular
// file, or "" if none does.
func ResolvePath(candidates ...string) string {
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", key)
	}
}
