package server

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/server/db"
	"github.com/aspect-build/kycattest/internal/server/handler"
	"github.com/aspect-build/kycattest/internal/signer"
	"github.com/aspect-build/kycattest/internal/verifier"
	"github.com/aspect-build/kycattest/internal/version"
)

// NewQuoteParser returns the quote parser selected by cfg.
func NewQuoteParser(cfg *Config) attestation.QuoteParser {
	if cfg.QuoteParser == QuoteParserLocal {
		return attestation.NewLocalParser()
	}
	return attestation.NewPCCSParser(cfg.QuoteParseURL, cfg.QuoteParseTimeout)
}

// NewVerifier builds the verifier described by cfg around parser.
func NewVerifier(cfg *Config, parser attestation.QuoteParser) (*verifier.Verifier, error) {
	opts := verifier.Options{
		Parser:              parser,
		EnforceMeasurements: cfg.EnforceMeasurements,
		Timeout:             cfg.QuoteParseTimeout,
	}
	if cfg.GoldenFile != "" {
		golden, err := attestation.LoadGoldenMeasurements(cfg.GoldenFile)
		if err != nil {
			return nil, fmt.Errorf("golden measurements: %w", err)
		}
		opts.Golden = golden
	}
	return verifier.New(opts)
}

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(store *db.Store, cfg *Config, v handler.Checker) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Fields())
	})

	admin := AdminAuth(cfg.AdminToken)
	issuer := &handler.Issuer{QuotePath: cfg.QuotePath}
	info := handler.InfoSource{
		Collector:           attestation.NewDstackInfoCollector(cfg.DstackEndpoint),
		EnforceMeasurements: cfg.EnforceMeasurements,
	}
	if cfg.KeyPath != "" {
		sgn := signer.New(cfg.KeyPath, nil)
		issuer.Signer = sgn
		info.SigningPublicKey = func() (string, error) {
			pub, err := sgn.PublicKey()
			if err != nil {
				return "", err
			}
			return hex.EncodeToString(pub), nil
		}
	}

	v1 := r.Group("/v1")
	{
		// Issuing
		v1.POST("/records", admin, handler.HandleIssueRecord(store, cfg.MasterKey, issuer))
		v1.GET("/records", admin, handler.HandleListRecords(store))
		v1.GET("/records/:id", handler.HandleGetRecord(store, cfg.MasterKey))

		// Verification
		v1.POST("/verify", handler.HandleVerify(v))
		v1.POST("/records/:id/verify", handler.HandleVerifyStored(store, cfg.MasterKey, v))
		v1.GET("/records/:id/verifications", admin, handler.HandleListVerifications(store))

		v1.GET("/attestation/info", handler.HandleAttestationInfo(info))
	}

	return r
}
