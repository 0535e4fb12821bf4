package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxWebhookBody caps an inbound delivery at 1 MiB.
const maxWebhookBody = 1 << 20

// signatureWindow is the maximum clock skew accepted on the signed timestamp.
const signatureWindow = 5 * time.Minute

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidSlug reports whether s is a well-formed webhook slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// SignPayload computes the delivery signature: hex HMAC-SHA256 of
// timestamp + "." + body under the webhook secret, with a "sha256=" prefix.
func SignPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the timestamp freshness and the HMAC in constant
// time. The timestamp is unix seconds as a decimal string; the "sha256="
// prefix on the signature is optional.
func verifySignature(secret, timestamp, signature string, body []byte, now time.Time) bool {
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > signatureWindow || skew < -signatureWindow {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	want := strings.TrimPrefix(SignPayload(secret, timestamp, body), "sha256=")
	return hmac.Equal([]byte(sig), []byte(want))
}
