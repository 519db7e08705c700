package models

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "fundpool/pkg/domain-errors"
)

const principalHexLen = 40

// Principal is an account address in EIP-55 checksummed form. The zero value
// is the empty string and never identifies a contributor.
type Principal string

// ParsePrincipal validates a 0x-prefixed 20-byte hex address. All-lower and
// all-upper input is accepted as-is; mixed case must carry a valid checksum.
func ParsePrincipal(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	body, ok := strings.CutPrefix(raw, "0x")
	if !ok {
		body, ok = strings.CutPrefix(raw, "0X")
	}
	if !ok || len(body) != principalHexLen {
		return "", dErrors.New(dErrors.CodeBadRequest, "principal must be a 0x-prefixed 20-byte hex address")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "principal contains non-hex characters")
	}

	canonical := checksum(strings.ToLower(body))
	if hasMixedCase(body) && "0x"+body != canonical {
		return "", dErrors.New(dErrors.CodeBadRequest, "principal checksum mismatch")
	}
	return Principal(canonical), nil
}

// MustPrincipal parses raw and panics on error. Intended for tests and
// compile-time constants.
func MustPrincipal(raw string) Principal {
	p, err := ParsePrincipal(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Principal) String() string { return string(p) }

// IsZero reports whether p is unset.
func (p Principal) IsZero() bool { return p == "" }

// checksum applies EIP-55 casing to a lower-case 40-char hex body.
func checksum(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, len(lower)+2)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func hasMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
