package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Signature headers set on every signed delivery.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderEventType = "X-Event-Type"
)

// SignHMAC returns "sha256=<hex>" of HMAC-SHA256 over "<unix ts>.<body>".
func SignHMAC(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a signature produced by SignHMAC. A non-zero tolerance
// also rejects timestamps further than that from now.
func VerifyHMAC(secret string, ts int64, body []byte, provided string, tolerance time.Duration) bool {
	if tolerance > 0 {
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return false
		}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(provided, "sha256="))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(strings.TrimPrefix(SignHMAC(secret, ts, body), "sha256="))
	return hmac.Equal(want, got)
}
