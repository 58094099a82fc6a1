package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/kycattest/internal/crypto"
	"github.com/aspect-build/kycattest/internal/logx"
	"github.com/aspect-build/kycattest/internal/proof"
	"github.com/aspect-build/kycattest/internal/redact"
	"github.com/aspect-build/kycattest/internal/server/db"
	"github.com/aspect-build/kycattest/internal/verifier"
)

const maxRecordBody = 1 << 20

// Checker is the part of *verifier.Verifier the handlers use.
type Checker interface {
	Check(ctx context.Context, rec *proof.Record) verifier.Result
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// HandleVerify handles POST /v1/verify. The body is a record, bare or in a
// {"response": ...} envelope. Any well-formed body gets a 200 answer.
func HandleVerify(v Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRecordBody+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}
		if len(body) > maxRecordBody {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "record too large"})
			return
		}
		rec, err := proof.Decode(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, check(c.Request.Context(), v, rec, ""))
	}
}

// HandleVerifyStored handles POST /v1/records/:id/verify and appends the
// outcome to the record's audit trail.
func HandleVerifyStored(store *db.Store, masterKey [crypto.KeySize]byte, v Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		_, rec, ok := loadRecord(c, store, masterKey, id)
		if !ok {
			return
		}
		resp := check(c.Request.Context(), v, rec, id)
		if err := store.AddVerification(&db.Verification{RecordID: id, Valid: resp.Valid, Reason: resp.Reason}); err != nil {
			logx.Errorf("AddVerification(%s): %v", id, err)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleListVerifications handles GET /v1/records/:id/verifications.
func HandleListVerifications(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		row, err := store.GetRecord(id)
		if err != nil {
			logx.Errorf("GetRecord(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve record"})
			return
		}
		if row == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		list, err := store.ListVerifications(id)
		if err != nil {
			logx.Errorf("ListVerifications(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list verifications"})
			return
		}
		if list == nil {
			list = []db.Verification{}
		}
		c.JSON(http.StatusOK, list)
	}
}

func check(ctx context.Context, v Checker, rec *proof.Record, label string) verifyResponse {
	res := v.Check(ctx, rec)
	if res.Valid {
		logx.Debugf("record %s verified", label)
		return verifyResponse{Valid: true}
	}
	reason := redact.ForClaim(rec.Identity).Error(res.Reason)
	logx.Warnf("record %s failed verification: %s", label, reason)
	return verifyResponse{Reason: reason}
}
