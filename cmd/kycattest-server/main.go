package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aspect-build/kycattest/internal/logx"
	"github.com/aspect-build/kycattest/internal/server"
	"github.com/aspect-build/kycattest/internal/server/db"
	"github.com/aspect-build/kycattest/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or KYCATTEST_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("kycattest-server"))
		fmt.Fprintf(os.Stderr, "kycattest-server issues attested identity claims and verifies published records.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_ADMIN_TOKEN           Bearer token for issuing and listing (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_MASTER_KEY            Record encryption key (64 hex chars, required)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_DB_PATH               SQLite database path (default: kycattest.db)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_LISTEN_ADDR           Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_CORS_ORIGINS          Comma-separated allowed browser origins\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_KEY_PATH              Signing key (default: %s)\n", server.DefaultKeyPath)
		fmt.Fprintf(os.Stderr, "  KYCATTEST_KEY_FALLBACK_PATH     Signing key fallback (default: %s)\n", server.DefaultKeyFallbackPath)
		fmt.Fprintf(os.Stderr, "  KYCATTEST_QUOTE_PATH            Quote file (default: %s)\n", server.DefaultQuotePath)
		fmt.Fprintf(os.Stderr, "  KYCATTEST_QUOTE_FALLBACK_PATH   Quote file fallback (default: %s)\n", server.DefaultQuoteFallbackPath)
		fmt.Fprintf(os.Stderr, "  KYCATTEST_QUOTE_PARSER          remote|local (default: remote)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_QUOTE_PARSE_URL       Quote parsing service URL\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_QUOTE_PARSE_TIMEOUT   Quote parsing timeout (default: 10s)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_ENFORCE_MEASUREMENTS  Require golden measurements (default: true)\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_GOLDEN_FILE           YAML file overriding the golden measurements\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_DSTACK_ENDPOINT       dstack guest agent endpoint\n")
		fmt.Fprintf(os.Stderr, "  KYCATTEST_LOG_LEVEL             debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("kycattest-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	v, err := server.NewVerifier(cfg, server.NewQuoteParser(cfg))
	if err != nil {
		log.Fatalf("build verifier: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	if cfg.KeyPath == "" {
		logx.Warnf("no signing key found; issuing is disabled")
	}
	if cfg.QuotePath == "" {
		logx.Warnf("no quote file found; issuing will fail until one is provisioned")
	}
	logx.Infof("server config: parser=%s enforce_measurements=%v key=%s quote=%s",
		cfg.QuoteParser, cfg.EnforceMeasurements, cfg.KeyPath, cfg.QuotePath)

	r := server.NewRouter(store, cfg, v)
	log.Printf("kycattest-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
