//go:build dev

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/crypto"
	"github.com/aspect-build/kycattest/internal/server"
	"github.com/aspect-build/kycattest/internal/signer"
)

func init() {
	devCommands = append(devCommands, newKeygenCmd())
}

func newKeygenCmd() *cobra.Command {
	var (
		keyOut   string
		quoteOut string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "[dev] Generate a signing key, a stand-in quote and a recipient keypair",
		Long: `Write a fresh Ed25519 signing key and a stand-in quote file holding only
the hex report data for that key, then print an X25519 recipient keypair for
use as public_key when issuing.

The stand-in quote is not a TDX quote and will not pass a real parser.

NOTE: This command is only available in dev builds (go build -tags dev).
In a TEE the key and quote are provisioned by the enclave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(cmd, keyOut, quoteOut)
		},
	}
	cmd.Flags().StringVar(&keyOut, "key-out", server.DefaultKeyFallbackPath, "Output path for the signing key")
	cmd.Flags().StringVar(&quoteOut, "quote-out", server.DefaultQuoteFallbackPath, "Output path for the stand-in quote")
	return cmd
}

func keygen(cmd *cobra.Command, keyOut, quoteOut string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	pemBytes, err := signer.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	rd, err := attestation.ReportDataForKey(pub)
	if err != nil {
		return err
	}

	for path, data := range map[string][]byte{
		keyOut:   pemBytes,
		quoteOut: []byte(hex.EncodeToString(rd) + "\n"),
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	recvPriv, recvPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Signing key:        %s\n", keyOut)
	fmt.Fprintf(out, "Stand-in quote:     %s\n", quoteOut)
	fmt.Fprintf(out, "Signing public key: %s\n", hex.EncodeToString(pub))
	fmt.Fprintf(out, "\nRecipient keypair (X25519):\n")
	fmt.Fprintf(out, "  public_key:  %s\n", hex.EncodeToString(recvPub[:]))
	fmt.Fprintf(out, "  private_key: %s\n", hex.EncodeToString(recvPriv[:]))
	return nil
}
