package childauth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := Issue(secret, "child-42", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	child, err := Verify(secret, tok)
	if err != nil || child != "child-42" {
		t.Fatalf("Verify: child=%q err=%v", child, err)
	}
	if _, err := Verify([]byte("other"), tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: want ErrInvalidToken got=%v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := Issue(secret, "child-42", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Verify(secret, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: want ErrInvalidToken got=%v", err)
	}
	if _, err := Issue(secret, " ", time.Hour); err == nil {
		t.Fatalf("blank child should fail")
	}
}
