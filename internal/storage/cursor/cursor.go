// Package cursor encodes opaque journal page tokens.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidToken indicates a token that cannot be decoded or no longer
// matches the request it is used with.
var ErrInvalidToken = errors.New("invalid page token")

// Cursor is the state carried by a page token.
type Cursor struct {
	// AfterSeq is the last journal position already returned.
	AfterSeq uint64 `json:"after"`
	// FilterHash ties the token to the filter of the first request.
	FilterHash string `json:"filter_hash,omitempty"`
}

// New returns the cursor that continues after seq under filter.
func New(afterSeq uint64, filter string) Cursor {
	return Cursor{AfterSeq: afterSeq, FilterHash: HashFilter(filter)}
}

// Encode encodes a cursor to an opaque base64 string.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode decodes a token produced by Encode.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

// Resume decodes token and checks it was issued for filter.
func Resume(token, filter string) (Cursor, error) {
	c, err := Decode(token)
	if err != nil {
		return Cursor{}, err
	}
	if c.FilterHash != HashFilter(filter) {
		return Cursor{}, fmt.Errorf("%w: filter changed since the token was issued", ErrInvalidToken)
	}
	return c, nil
}

// HashFilter returns a short hash of filter, or "" for an empty filter.
func HashFilter(filter string) string {
	if filter == "" {
		return ""
	}
	h := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(h[:8])
}
