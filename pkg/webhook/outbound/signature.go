package outbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	IDHeader        = "X-Webhook-ID"

	signaturePrefix = "sha256="
)

// Signature authenticates one delivery attempt.
type Signature struct {
	Value     string
	Timestamp int64
	ID        string
}

// Sign computes the signature of payload at the given time. The timestamp is
// part of the signed message so a captured request cannot be replayed later
// with a fresh timestamp.
func Sign(secret string, payload []byte, id string, at time.Time) Signature {
	ts := at.Unix()
	return Signature{
		Value:     signaturePrefix + mac(secret, ts, payload),
		Timestamp: ts,
		ID:        id,
	}
}

func (s Signature) setHeaders(h http.Header) {
	h.Set(SignatureHeader, s.Value)
	h.Set(TimestampHeader, strconv.FormatInt(s.Timestamp, 10))
	h.Set(IDHeader, s.ID)
}

func mac(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(strconv.AppendInt(nil, ts, 10))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
