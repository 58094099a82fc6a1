package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/logx"
)

type infoResponse struct {
	Instance            *attestation.InstanceInfo `json:"instance,omitempty"`
	SigningPublicKey    string                    `json:"signing_public_key,omitempty"`
	EnforceMeasurements bool                      `json:"enforce_measurements"`
}

// InfoSource supplies the fields of GET /v1/attestation/info that do not
// come from the dstack agent.
type InfoSource struct {
	Collector           attestation.Collector
	SigningPublicKey    func() (string, error)
	EnforceMeasurements bool
}

// HandleAttestationInfo handles GET /v1/attestation/info. An unreachable
// dstack agent leaves "instance" out rather than failing the request.
func HandleAttestationInfo(src InfoSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := infoResponse{EnforceMeasurements: src.EnforceMeasurements}
		if src.Collector != nil {
			info, err := src.Collector.Collect(c.Request.Context())
			if err != nil {
				logx.Debugf("collect instance info: %v", err)
			} else {
				resp.Instance = &info
			}
		}
		if src.SigningPublicKey != nil {
			if pub, err := src.SigningPublicKey(); err == nil {
				resp.SigningPublicKey = pub
			} else {
				logx.Debugf("signing public key: %v", err)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
