package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVs(t *testing.T) {
	if !redactionOn() {
		t.Skip("LOG_REDACTION_ENABLED is off")
	}
	audio := "data:audio/wav;base64," + strings.Repeat("A", 4000)
	out := sanitizeKVs([]interface{}{
		"auth_token", "abc",
		"child_id", "child-7",
		"audio", audio,
		"question", "なんで空は青いの？",
		"dangling",
	})
	if len(out) != 9 {
		t.Fatalf("len: got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("token: got=%v", out[1])
	}
	if s, _ := out[3].(string); !strings.HasPrefix(s, "hash:") || strings.Contains(s, "child-7") {
		t.Fatalf("child id: got=%v", out[3])
	}
	if s, _ := out[5].(string); len(s) > 100 || !strings.HasSuffix(s, "bytes)") {
		t.Fatalf("audio should be truncated: got=%q", s)
	}
	if out[7] != "なんで空は青いの？" || out[8] != "dangling" {
		t.Fatalf("plain values: %v %v", out[7], out[8])
	}
}

func TestLooksLikeJWT(t *testing.T) {
	if !looksLikeJWT("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJjaGlsZC03In0.sig") {
		t.Fatalf("jwt not detected")
	}
	if looksLikeJWT("scientist.explain.v1") {
		t.Fatalf("short dotted names are not tokens")
	}
}
