package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// EmptyBodyHash is the SHA-256 of an empty body.
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// StringToSign builds METHOD\nPATH\nTIMESTAMP\nSHA256(body) for internal request signatures.
func StringToSign(method, path string, timestamp int64, body []byte) string {
	return fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestamp, HashBody(body))
}

// SignRequest returns the hex HMAC-SHA256 of the request's string to sign.
func SignRequest(secret, method, path string, timestamp int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(StringToSign(method, path, timestamp, body)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret, signature, method, path string, timestamp int64, body []byte) bool {
	return SecureCompare(SignRequest(secret, method, path, timestamp, body), signature)
}

func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func HashBody(body []byte) string {
	if len(body) == 0 {
		return EmptyBodyHash
	}
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// TimestampWithin reports whether a unix timestamp is no further than tolerance from now.
func TimestampWithin(timestamp int64, now time.Time, tolerance time.Duration) bool {
	diff := now.Sub(time.Unix(timestamp, 0))
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
