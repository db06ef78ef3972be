package security

import (
	"errors"
	"os"
	"strings"
)

// ClassifiedError separates a user-safe message from verbose debug details.
// Cause, when set, keeps the typed error reachable through errors.As.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
	Cause       error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewClassifiedError creates a new error with separated user-safe and debug details.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// Classify wraps cause with a user-safe message. The cause's text becomes the
// debug detail.
func Classify(userSafe string, cause error) error {
	ce := &ClassifiedError{UserSafe: userSafe, Cause: cause}
	if cause != nil {
		ce.DebugDetail = cause.Error()
	}
	return ce
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

// RedactMessage strips the home directory and access-key material from
// user-visible text.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	return redactKeys(out)
}

func redactKeys(s string) string {
	const scheme = "ss://"
	var b strings.Builder
	for {
		idx := strings.Index(s, scheme)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteString(scheme + "[redacted]")
		rest := s[idx+len(scheme):]
		end := strings.IndexAny(rest, " \t\n\"'")
		if end < 0 {
			return b.String()
		}
		s = rest[end:]
	}
}
