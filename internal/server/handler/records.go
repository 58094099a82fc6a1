package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/kycattest/internal/attestation"
	"github.com/aspect-build/kycattest/internal/crypto"
	"github.com/aspect-build/kycattest/internal/kyc"
	"github.com/aspect-build/kycattest/internal/logx"
	"github.com/aspect-build/kycattest/internal/proof"
	"github.com/aspect-build/kycattest/internal/redact"
	"github.com/aspect-build/kycattest/internal/server/db"
	"github.com/aspect-build/kycattest/internal/signer"
)

// Issuer signs claims with the enclave key and attaches the enclave quote.
// A nil Signer disables issuing.
type Issuer struct {
	Signer    *signer.Signer
	QuotePath string
	Now       func() time.Time
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

type issueRequest struct {
	Identity  kyc.Identity `json:"identity"`
	PublicKey string       `json:"public_key" binding:"required"`
}

type issueResponse struct {
	ProofOfTask       string `json:"proof_of_task"`
	Data              string `json:"data"`
	PublicKey         string `json:"public_key"`
	EncryptedIdentity string `json:"encrypted_identity"`
}

// HandleIssueRecord handles POST /v1/records.
func HandleIssueRecord(store *db.Store, masterKey [crypto.KeySize]byte, iss *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if iss == nil || iss.Signer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "issuing is disabled: no signing key configured"})
			return
		}

		var req issueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recipient, err := crypto.ParseKeyHex(req.PublicKey)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "public_key must be a hex X25519 public key"})
			return
		}

		identity := req.Identity
		if err := identity.Complete(iss.now()); err != nil {
			logx.Warnf("age flags not set: %v", err)
		}
		mask := redact.ForClaim(identity.Claim())

		quote, err := attestation.LoadQuote(iss.QuotePath)
		if err != nil {
			logx.Errorf("load quote: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attestation quote unavailable"})
			return
		}

		claim := identity.Claim()
		sig, err := iss.Signer.Sign(claim)
		if err != nil {
			logx.Errorf("sign claim: %s", mask.Error(err))
			if errors.Is(err, signer.ErrKeyLoad) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signing key unavailable"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign claim"})
			return
		}

		rec := &proof.Record{Identity: claim, Quote: quote, Signature: sig}
		taskData := kyc.TaskData(req.PublicKey, identity)
		id, err := rec.IDFor(taskData)
		if err != nil {
			logx.Errorf("record id: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode record"})
			return
		}
		encoded, err := rec.Encode()
		if err != nil {
			logx.Errorf("encode record: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode record"})
			return
		}
		sealed, err := crypto.SealAtRest(masterKey, encoded)
		if err != nil {
			logx.Errorf("seal record: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store record"})
			return
		}

		created, err := store.PutRecord(&db.Record{ID: id, RecordEncrypted: sealed, TaskData: taskData})
		if err != nil {
			logx.Errorf("PutRecord(%s): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store record"})
			return
		}

		full, err := json.Marshal(identity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode identity"})
			return
		}
		blob, err := crypto.SealForRecipient(recipient, full)
		if err != nil {
			logx.Errorf("seal identity: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt identity"})
			return
		}

		logx.Infof("issued record %s (%s)", id, mask.String(taskData))
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, issueResponse{
			ProofOfTask:       id,
			Data:              taskData,
			PublicKey:         req.PublicKey,
			EncryptedIdentity: base64.StdEncoding.EncodeToString(blob),
		})
	}
}

type recordResponse struct {
	ID        string        `json:"id"`
	TaskData  string        `json:"task_data"`
	CreatedAt time.Time     `json:"created_at"`
	Record    *proof.Record `json:"record"`
}

// HandleGetRecord handles GET /v1/records/:id.
func HandleGetRecord(store *db.Store, masterKey [crypto.KeySize]byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		row, rec, ok := loadRecord(c, store, masterKey, id)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, recordResponse{
			ID:        row.ID,
			TaskData:  row.TaskData,
			CreatedAt: row.CreatedAt,
			Record:    rec,
		})
	}
}

// HandleListRecords handles GET /v1/records?limit=N.
func HandleListRecords(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		records, err := store.ListRecords(limit)
		if err != nil {
			logx.Errorf("ListRecords: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
			return
		}
		if records == nil {
			records = []db.Record{}
		}
		c.JSON(http.StatusOK, records)
	}
}

// loadRecord fetches and unseals a stored record, writing the error
// response itself when it cannot.
func loadRecord(c *gin.Context, store *db.Store, masterKey [crypto.KeySize]byte, id string) (*db.Record, *proof.Record, bool) {
	row, err := store.GetRecord(id)
	if err != nil {
		logx.Errorf("GetRecord(%q): %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve record"})
		return nil, nil, false
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return nil, nil, false
	}
	plain, err := crypto.OpenAtRest(masterKey, row.RecordEncrypted)
	if err != nil {
		logx.Errorf("open record %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decrypt record"})
		return nil, nil, false
	}
	rec, err := proof.Decode(plain)
	if err != nil {
		logx.Errorf("decode record %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored record is corrupt"})
		return nil, nil, false
	}
	return row, rec, true
}
