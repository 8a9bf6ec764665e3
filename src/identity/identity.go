// Package identity derives and validates CallIdentities, the stable opaque
// strings peers use to address each other through the relay.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MinLength is the shortest identity accepted as a call target.
const MinLength = 6

// ErrInvalidIdentity is returned for identities that cannot be used as relay
// routing keys.
var ErrInvalidIdentity = errors.New("invalid call identity")

// FromUID derives the CallIdentity of a user from the uid assigned by the
// authentication provider. The result is stable for a given uid.
func FromUID(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: empty uid", ErrInvalidIdentity)
	}

	short := uid
	if len(short) > 8 {
		short = short[:8]
	}

	return sanitize("user_" + short + "_" + shortHash(uid)), nil
}

// Validate checks that id is long enough and only contains characters that are
// safe inside relay topic names.
func Validate(id string) error {
	if len(id) < MinLength {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidIdentity, id, MinLength)
	}
	for _, r := range id {
		if !allowed(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentity, id, r)
		}
	}
	return nil
}

// shortHash is a 31-multiplier string hash folded to 32 bits, rendered as up
// to 4 hex characters.
func shortHash(s string) string {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	hex := strconv.FormatInt(v, 16)
	if len(hex) > 4 {
		hex = hex[:4]
	}
	return hex
}

func allowed(r rune) bool {
	return r == '_' || r == '-' || r == '@' || r == '+' ||
		(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return '-'
	}, id)
}
