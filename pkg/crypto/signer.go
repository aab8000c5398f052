package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer computes HMAC-SHA256 signatures over webhook envelopes so receivers
// can verify that a delivery came from this pipeline.
type Signer struct {
	secretKey []byte
}

func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expected := s.Sign(data)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false, fmt.Errorf("invalid signature")
	}
	return true, nil
}
