// Package accesskey parses Shadowsocks ss:// access keys into server
// configurations.
package accesskey

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Jigsaw-Code/outline-sdk/transport/shadowsocks"

	"github.com/treykane/proxypal/internal/model"
)

const scheme = "ss://"

// ParseError reports a malformed access key. It never includes the key
// itself, which carries the password.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not parse access key: %s: %v", e.Reason, e.Err)
	}
	return "could not parse access key: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes ss://<userinfo>@<host>:<port>[/][?query][#tag].
//
// userinfo is base64url(method:password), with or without padding, or the
// SIP002 plain form method:password with percent-encoding. Surrounding
// whitespace is ignored while parsing, but the key exactly as given becomes the
// config ID. The display name is, in order of preference, "Outline Server
// (<host>)" when an outline query parameter is present, the name query
// parameter, the fragment, or the host.
func Parse(key string) (model.ServerConfig, error) {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, scheme) {
		return model.ServerConfig{}, &ParseError{Reason: "key must start with ss://"}
	}
	rest := trimmed[len(scheme):]
	rest, tag, _ := strings.Cut(rest, "#")
	rest, rawQuery, _ := strings.Cut(rest, "?")
	rest = strings.TrimSuffix(rest, "/")

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return model.ServerConfig{}, &ParseError{Reason: "missing '@' separator"}
	}
	userinfo, hostport := rest[:at], rest[at+1:]

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return model.ServerConfig{}, &ParseError{Reason: "server must be host:port", Err: err}
	}
	if host == "" {
		return model.ServerConfig{}, &ParseError{Reason: "empty server host"}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return model.ServerConfig{}, &ParseError{Reason: fmt.Sprintf("invalid server port %q", portStr)}
	}

	method, password, err := decodeUserinfo(userinfo)
	if err != nil {
		return model.ServerConfig{}, err
	}

	cfg := model.ServerConfig{
		ID:         key,
		Server:     host,
		ServerPort: uint16(port),
		Password:   password,
		Method:     method,
		Name:       host,
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return model.ServerConfig{}, &ParseError{Reason: "invalid query", Err: err}
	}
	switch {
	case query.Has("outline"):
		cfg.Name = fmt.Sprintf("Outline Server (%s)", host)
	case query.Get("name") != "":
		cfg.Name = query.Get("name")
	case tag != "":
		if name, err := url.PathUnescape(tag); err == nil && strings.TrimSpace(name) != "" {
			cfg.Name = name
		}
	}
	return cfg, nil
}

func decodeUserinfo(userinfo string) (method, password string, err error) {
	if userinfo == "" {
		return "", "", &ParseError{Reason: "missing credentials"}
	}
	var decoded string
	if strings.Contains(userinfo, ":") {
		decoded, err = url.PathUnescape(userinfo)
		if err != nil {
			return "", "", &ParseError{Reason: "invalid percent-encoding in credentials", Err: err}
		}
	} else {
		b, derr := decodeBase64(userinfo)
		if derr != nil {
			return "", "", &ParseError{Reason: "credentials are not valid base64", Err: derr}
		}
		decoded = string(b)
	}
	if !utf8.ValidString(decoded) {
		return "", "", &ParseError{Reason: "credentials are not valid UTF-8"}
	}
	method, password, ok := strings.Cut(decoded, ":")
	if !ok {
		return "", "", &ParseError{Reason: "credentials must be method:password"}
	}
	if method == "" {
		return "", "", &ParseError{Reason: "empty cipher method"}
	}
	return method, password, nil
}

// decodeBase64 accepts URL-safe or standard alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// ValidateCipher reports whether method names an AEAD cipher Outline clients
// support. ss-local accepts more than this, so callers treat a failure as a
// warning rather than a parse error.
func ValidateCipher(method, password string) error {
	if _, err := shadowsocks.NewEncryptionKey(method, password); err != nil {
		return fmt.Errorf("cipher %q: %w", method, err)
	}
	return nil
}
