package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrOTPDigits is returned for a code length outside 6..10.
var ErrOTPDigits = errors.New("otp length out of range")

// NewOTP returns a uniformly random numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", ErrOTPDigits
	}

	code := make([]byte, 0, digits)
	entropy := make([]byte, digits+4)
	for len(code) < digits {
		if _, err := rand.Read(entropy); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range entropy {
			// Bytes of 250 and above would skew the low digits.
			if b >= 250 {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == digits {
				break
			}
		}
	}
	return string(code), nil
}

// HashCode is the at-rest form of a one-time code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// SubjectKey derives the opaque Redis subject for a normalized identifier.
// Method is part of the hash so an email and a phone never collide.
func SubjectKey(method, normalized string) string {
	sum := sha256.Sum256([]byte(method + ":" + normalized))
	return hex.EncodeToString(sum[:16])
}

// NewGrantID returns a random grant identifier.
func NewGrantID() string {
	return uuid.NewString()
}

// IsNumeric reports whether v is non-empty and made only of ASCII digits.
func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
