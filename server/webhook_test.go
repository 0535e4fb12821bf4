package server

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidSlug(t *testing.T) {
	valid := []string{"github", "g", "my-hook", "hook-2", "0day"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = false", s)
		}
	}
	invalid := []string{"", "-hook", "My-Hook", "hook_1", "hook.1", "hook/evil"}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = true", s)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"a":1}`)
	now := time.Unix(1_700_000_000, 0)
	ts := fmt.Sprintf("%d", now.Unix())

	sig := SignPayload(secret, ts, body)
	if !verifySignature(secret, ts, sig, body, now) {
		t.Error("valid signature rejected")
	}
	// The sha256= prefix is optional; bare hex is equally valid.
	if !verifySignature(secret, ts, strings.TrimPrefix(sig, "sha256="), body, now) {
		t.Error("valid unprefixed signature rejected")
	}

	if verifySignature(secret, ts, sig, []byte(`{"a":2}`), now) {
		t.Error("tampered body accepted")
	}
	if verifySignature("wrong", ts, sig, body, now) {
		t.Error("wrong secret accepted")
	}
	if verifySignature(secret, ts, "sha256=deadbeef", body, now) {
		t.Error("forged signature accepted")
	}
	if verifySignature(secret, ts, "deadbeef", body, now) {
		t.Error("forged unprefixed signature accepted")
	}
	if verifySignature(secret, ts, "", body, now) {
		t.Error("empty signature accepted")
	}
	if verifySignature(secret, "not-a-number", sig, body, now) {
		t.Error("malformed timestamp accepted")
	}
	if verifySignature("", ts, sig, body, now) {
		t.Error("empty secret accepted")
	}
}

func TestVerifySignatureWindow(t *testing.T) {
	secret := "s3cret"
	body := []byte("x")
	now := time.Unix(1_700_000_000, 0)

	// Inside the window, both directions.
	for _, skew := range []time.Duration{-4 * time.Minute, 4 * time.Minute} {
		ts := fmt.Sprintf("%d", now.Add(skew).Unix())
		if !verifySignature(secret, ts, SignPayload(secret, ts, body), body, now) {
			t.Errorf("skew %v rejected", skew)
		}
	}

	// Outside the window.
	for _, skew := range []time.Duration{-6 * time.Minute, 6 * time.Minute} {
		ts := fmt.Sprintf("%d", now.Add(skew).Unix())
		if verifySignature(secret, ts, SignPayload(secret, ts, body), body, now) {
			t.Errorf("skew %v accepted", skew)
		}
	}
}
