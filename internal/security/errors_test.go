package security

import (
	"errors"
	"fmt"
	"testing"
)

func TestRedactMessage(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	msg := home + "/.config/proxypal/servers.json permission denied"
	got := RedactMessage(msg)
	if got != "~/.config/proxypal/servers.json permission denied" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestRedactMessageHidesAccessKeys(t *testing.T) {
	cases := map[string]string{
		"bad key ss://YWVzOnB3@host:1 here": "bad key ss://[redacted] here",
		"ss://abc":                          "ss://[redacted]",
		`"ss://a" and 'ss://b'`:             `"ss://[redacted]" and 'ss://[redacted]'`,
		"no keys":                           "no keys",
	}
	for in, want := range cases {
		if got := RedactMessage(in); got != want {
			t.Fatalf("RedactMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

type typedErr struct{ detail string }

func (e *typedErr) Error() string { return e.detail }

func TestClassifyKeepsCause(t *testing.T) {
	cause := &typedErr{detail: "dial tcp 127.0.0.1:1080: connection refused"}
	err := Classify("connection failed, check server details", fmt.Errorf("verify: %w", cause))

	if got := UserMessage(err, false); got != "connection failed, check server details" {
		t.Fatalf("unexpected user message: %q", got)
	}
	if got := DebugMessage(err); got != "verify: dial tcp 127.0.0.1:1080: connection refused" {
		t.Fatalf("unexpected debug message: %q", got)
	}
	var te *typedErr
	if !errors.As(err, &te) {
		t.Fatal("expected typed cause to be reachable")
	}
}

func TestUserMessagePlainError(t *testing.T) {
	if got := UserMessage(errors.New("boom"), true); got != "boom" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := UserMessage(nil, true); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
	if got := UserMessage(NewClassifiedError("", "x"), false); got != "operation failed" {
		t.Fatalf("unexpected fallback: %q", got)
	}
}
