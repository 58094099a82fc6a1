package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/canonical"
	"github.com/aspect-build/kycattest/internal/crypto"
	"github.com/aspect-build/kycattest/internal/logx"
	"github.com/aspect-build/kycattest/internal/proof"
	"github.com/aspect-build/kycattest/internal/redact"
	"github.com/aspect-build/kycattest/internal/server"
	"github.com/aspect-build/kycattest/internal/signer"
	"github.com/aspect-build/kycattest/internal/verifier"
	"github.com/aspect-build/kycattest/internal/version"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

func main() {
	var (
		logLevel string
		verbose  bool
	)

	rootCmd := &cobra.Command{
		Use:           "kycattest",
		Short:         "Sign and verify identity claims bound to a TEE attestation quote",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logx.Configure(logLevel, verbose)
		},
	}
	rootCmd.SetVersionTemplate(version.String("kycattest") + "\n")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (or KYCATTEST_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logs")

	rootCmd.AddCommand(newEncodeCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newPubkeyCmd())
	rootCmd.AddCommand(newOpenCmd())
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kycattest: %v\n", err)
		os.Exit(1)
	}
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode [claim.json|-]",
		Short: "Print the canonical form of a claim",
		Long: `Read a flat JSON object and print the exact bytes that get signed:
keys sorted, no whitespace.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := readClaim(args)
			if err != nil {
				return err
			}
			msg, err := canonical.Encode(claim)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(msg))
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "sign [claim.json|-]",
		Short: "Sign a claim and print the base64 signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim, err := readClaim(args)
			if err != nil {
				return err
			}
			path, err := resolveKey(cmd, keyPath)
			if err != nil {
				return err
			}
			sig, err := signer.Sign(claim, path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PKCS#8 PEM Ed25519 key (default: first of "+server.DefaultKeyPath+", "+server.DefaultKeyFallbackPath+")")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		parser     string
		parseURL   string
		timeout    time.Duration
		enforce    bool
		goldenFile string
	)

	cmd := &cobra.Command{
		Use:   "verify [record.json|-]",
		Short: "Verify a published record",
		Long: `Check that the record's signature was made by the key committed in its
quote. The record may be bare or wrapped as {"response": ...}.
Exits non-zero when the record is not valid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args)
			if err != nil {
				return err
			}
			name, err := server.ParseQuoteParser(parser)
			if err != nil {
				return err
			}
			cfg := &server.Config{
				QuoteParser:         name,
				QuoteParseURL:       parseURL,
				QuoteParseTimeout:   timeout,
				EnforceMeasurements: enforce,
				GoldenFile:          goldenFile,
			}
			v, err := server.NewVerifier(cfg, server.NewQuoteParser(cfg))
			if err != nil {
				return err
			}
			return verifyRecord(context.Background(), cmd.OutOrStdout(), v, data)
		},
	}
	cmd.Flags().StringVar(&parser, "parser", server.QuoteParserRemote, "Quote parser: remote|local")
	cmd.Flags().StringVar(&parseURL, "parse-url", attestation.DefaultQuoteParseURL, "Quote parsing service URL (remote parser)")
	cmd.Flags().DurationVar(&timeout, "timeout", attestation.DefaultQuoteParseTimeout, "Quote parsing timeout")
	cmd.Flags().BoolVar(&enforce, "enforce-measurements", true, "Require the quote to match the golden measurements")
	cmd.Flags().StringVar(&goldenFile, "golden", "", "YAML file overriding the golden measurements")
	return cmd
}

func newPubkeyCmd() *cobra.Command {
	var (
		keyPath   string
		quotePath string
		parser    string
		parseURL  string
		spki      bool
	)

	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the Ed25519 public key of a signing key or committed in a quote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if quotePath != "" {
				name, err := server.ParseQuoteParser(parser)
				if err != nil {
					return err
				}
				quote, err := attestation.LoadQuote(quotePath)
				if err != nil {
					return err
				}
				cfg := &server.Config{QuoteParser: name, QuoteParseURL: parseURL, QuoteParseTimeout: attestation.DefaultQuoteParseTimeout}
				raw, err = attestation.ExtractPublicKey(context.Background(), server.NewQuoteParser(cfg), quote)
				if err != nil {
					return err
				}
			} else {
				path, err := resolveKey(cmd, keyPath)
				if err != nil {
					return err
				}
				pub, err := signer.New(path, nil).PublicKey()
				if err != nil {
					return err
				}
				raw = pub
			}
			if spki {
				der, err := attestation.WrapSPKI(raw)
				if err != nil {
					return err
				}
				raw = der
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PKCS#8 PEM Ed25519 key")
	cmd.Flags().StringVar(&quotePath, "quote", "", "Read the key from this quote file instead")
	cmd.Flags().StringVar(&parser, "parser", server.QuoteParserRemote, "Quote parser: remote|local")
	cmd.Flags().StringVar(&parseURL, "parse-url", attestation.DefaultQuoteParseURL, "Quote parsing service URL (remote parser)")
	cmd.Flags().BoolVar(&spki, "spki", false, "Print the DER SubjectPublicKeyInfo instead of the raw key")
	return cmd
}

func newOpenCmd() *cobra.Command {
	var privHex string

	cmd := &cobra.Command{
		Use:   "open <encrypted_identity>",
		Short: "Decrypt the encrypted_identity returned when a record is issued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if privHex == "" {
				privHex = os.Getenv("KYCATTEST_RECIPIENT_KEY")
			}
			priv, err := crypto.ParseKeyHex(privHex)
			if err != nil {
				return fmt.Errorf("recipient key: %w", err)
			}
			blob, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("encrypted_identity is not base64: %w", err)
			}
			plain, err := crypto.OpenFromSender(priv, blob)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(plain))
			return nil
		},
	}
	cmd.Flags().StringVar(&privHex, "key", "", "Recipient X25519 private key, hex (or KYCATTEST_RECIPIENT_KEY)")
	return cmd
}

// recordChecker is the part of *verifier.Verifier the verify command needs.
type recordChecker interface {
	Check(ctx context.Context, rec *proof.Record) verifier.Result
}

// verifyRecord prints valid or invalid for the record in data. The returned
// error carries the failure reason with identity values masked.
func verifyRecord(ctx context.Context, out io.Writer, v recordChecker, data []byte) error {
	rec, err := proof.Decode(data)
	if err != nil {
		return err
	}
	res := v.Check(ctx, rec)
	if !res.Valid {
		fmt.Fprintln(out, "invalid")
		return errors.New(redact.ForClaim(rec.Identity).Error(res.Reason))
	}
	fmt.Fprintln(out, "valid")
	return nil
}

func resolveKey(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("key") {
		return flagValue, nil
	}
	path := server.ResolvePath(server.DefaultKeyPath, server.DefaultKeyFallbackPath)
	if path == "" {
		return "", fmt.Errorf("no signing key found: use --key or provision %s", server.DefaultKeyPath)
	}
	logx.Debugf("using signing key %s", path)
	return path, nil
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func readClaim(args []string) (canonical.Claim, error) {
	data, err := readInput(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var claim canonical.Claim
	if err := dec.Decode(&claim); err != nil {
		return nil, fmt.Errorf("claim must be a JSON object: %w", err)
	}
	return claim, nil
}
