package core

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Token is an opaque upload identifier chosen by the client. It is carried
// on the wire as a structured-header byte sequence (":base64:") and compared
// byte-for-byte, never case-folded, per spec section 4.1.
type Token struct {
	raw []byte
}

// Equal compares two tokens at the byte level, exact-length and
// case-sensitive, as required by the Header Codec contract.
func (t Token) Equal(other Token) bool {
	return bytes.Equal(t.raw, other.raw)
}

func (t Token) IsZero() bool {
	return len(t.raw) == 0
}

// String returns a stable, collision-free key suitable for use as a map key
// (the registry uses this rather than keying on the raw bytes directly).
func (t Token) String() string {
	return base64.RawURLEncoding.EncodeToString(t.raw)
}

func (t Token) Bytes() []byte {
	return t.raw
}

// Format renders the token back into its structured-header wire form.
func (t Token) Format() string {
	return ":" + base64.StdEncoding.EncodeToString(t.raw) + ":"
}

// ParseToken parses an Upload-Token header value. The structured-header
// byte-sequence grammar wraps standard base64 in leading/trailing colons,
// e.g. Upload-Token: :dGVzdA==:
func ParseToken(header string) (Token, error) {
	header = strings.TrimSpace(header)
	if len(header) < 2 || header[0] != ':' || header[len(header)-1] != ':' {
		return Token{}, ErrMalformedHeader
	}

	encoded := header[1 : len(header)-1]
	if encoded == "" {
		return Token{}, ErrMalformedHeader
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, ErrMalformedHeader
	}

	return Token{raw: raw}, nil
}

// MarshalJSON encodes the token as its map-key string form, so that
// lifecycle events serialize to something an external hook can use to
// correlate requests without re-deriving the wire byte sequence.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	t.raw = raw
	return nil
}
