package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// canonicalRequest is the message a webhook sender signs:
//
//	METHOD \n escaped-path \n timestamp \n nonce \n hex(sha256(body))
type canonicalRequest struct {
	method    string
	path      string
	timestamp string
	nonce     string
	body      []byte
}

func (c canonicalRequest) bytes() []byte {
	path := c.path
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(c.body)
	var b strings.Builder
	b.WriteString(strings.ToUpper(c.method))
	for _, part := range []string{path, c.timestamp, c.nonce, hex.EncodeToString(digest[:])} {
		b.WriteByte('\n')
		b.WriteString(part)
	}
	return []byte(b.String())
}

func (c canonicalRequest) mac(secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(c.bytes())
	return h.Sum(nil)
}

// SignRequest returns the base64 signature a sender must place in the signature header.
func SignRequest(secret []byte, method, path string, body []byte, timestamp, nonce string) string {
	c := canonicalRequest{method: method, path: path, timestamp: timestamp, nonce: nonce, body: body}
	return base64.StdEncoding.EncodeToString(c.mac(secret))
}

// decodeSignature accepts hex or standard base64. A hex SHA-256 digest is also valid base64, so
// hex is tried first whenever the value has the length of one.
func decodeSignature(value string) ([]byte, error) {
	if len(value) == hex.EncodedLen(sha256.Size) {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts unix seconds or RFC 3339.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
