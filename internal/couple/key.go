// Package couple derives the order-independent key that scopes shared data to
// a pair of users.
package couple

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrInvalidKey is returned for empty ids or an id paired with itself
var ErrInvalidKey = errors.New("invalid couple key")

// Key identifies a couple by its two user ids, lexicographically ordered
type Key struct {
	Low  string
	High string
}

// NewKey returns the key for a and b. NewKey(a, b) == NewKey(b, a).
func NewKey(a, b string) (Key, error) {
	if a == "" || b == "" || a == b {
		return Key{}, ErrInvalidKey
	}
	if a > b {
		a, b = b, a
	}
	return Key{Low: a, High: b}, nil
}

// MustKey is NewKey for ids already known to be valid
func MustKey(a, b string) Key {
	k, err := NewKey(a, b)
	if err != nil {
		panic(err)
	}
	return k
}

// String encodes both ids with length prefixes, so no two distinct keys and
// no bare id share an encoding.
func (k Key) String() string {
	b := make([]byte, 0, len(k.Low)+len(k.High)+8)
	b = strconv.AppendInt(b, int64(len(k.Low)), 10)
	b = append(b, ':')
	b = append(b, k.Low...)
	b = strconv.AppendInt(b, int64(len(k.High)), 10)
	b = append(b, ':')
	b = append(b, k.High...)
	return string(b)
}

// Hash is a fixed-width digest of the key, safe to use in object paths
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Contains reports whether id is one of the two partners
func (k Key) Contains(id string) bool {
	return id != "" && (id == k.Low || id == k.High)
}

// Other returns the partner of id, or "" if id is not part of the key
func (k Key) Other(id string) string {
	switch id {
	case k.Low:
		return k.High
	case k.High:
		return k.Low
	}
	return ""
}

// IsZero reports whether k is the zero key
func (k Key) IsZero() bool {
	return k.Low == "" && k.High == ""
}
