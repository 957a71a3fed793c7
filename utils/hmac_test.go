package utils

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"job_id":7}`)
	sig := SignRequest("secret", "POST", "/process_audio", 1714564800, body)

	if len(sig) != 64 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if !VerifySignature("secret", sig, "POST", "/process_audio", 1714564800, body) {
		t.Fatal("valid signature rejected")
	}

	for name, ok := range map[string]bool{
		"other secret": VerifySignature("other", sig, "POST", "/process_audio", 1714564800, body),
		"other path":   VerifySignature("secret", sig, "POST", "/process_video", 1714564800, body),
		"other time":   VerifySignature("secret", sig, "POST", "/process_audio", 1714564801, body),
		"other body":   VerifySignature("secret", sig, "POST", "/process_audio", 1714564800, []byte(`{"job_id":8}`)),
	} {
		if ok {
			t.Errorf("%s: tampered request accepted", name)
		}
	}
}

func TestHashBodyEmpty(t *testing.T) {
	if HashBody(nil) != EmptyBodyHash || HashBody([]byte{}) != EmptyBodyHash {
		t.Fatal("empty body must hash to EmptyBodyHash")
	}
}

func TestTimestampWithin(t *testing.T) {
	now := time.Unix(1714564800, 0)
	if !TimestampWithin(now.Unix()-300, now, 5*time.Minute) || !TimestampWithin(now.Unix()+300, now, 5*time.Minute) {
		t.Fatal("timestamps at the tolerance edge must pass")
	}
	if TimestampWithin(now.Unix()-301, now, 5*time.Minute) {
		t.Fatal("expired timestamp accepted")
	}
}
