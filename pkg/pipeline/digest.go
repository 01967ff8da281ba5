package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/aretw0/redliner/pkg/domain"
)

// inputDigest is what an executor may depend on: identity and committed results.
type inputDigest struct {
	SessionID   string              `json:"session_id"`
	DocumentKey string              `json:"document_key"`
	Results     domain.StageResults `json:"results"`
}

func fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func inputHash(s *domain.Session) string {
	return fingerprint(inputDigest{SessionID: s.ID, DocumentKey: s.DocumentKey, Results: s.Results})
}
