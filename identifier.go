package goRecover

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// ValidateIdentifier checks value against the rule for method. The value is
// matched as typed; callers normalize only after validation succeeds.
func ValidateIdentifier(method Method, value string) error {
	switch method {
	case MethodEmail:
		if emailPattern.MatchString(value) {
			return nil
		}
	case MethodPhone:
		if phonePattern.MatchString(value) {
			return nil
		}
	}
	return ErrInvalidIdentifierFormat
}

// NormalizeIdentifier trims whitespace and lowercases emails. Phones are only
// trimmed.
func NormalizeIdentifier(id Identifier) Identifier {
	v := strings.TrimSpace(id.Value)
	if id.Method == MethodEmail {
		v = strings.ToLower(v)
	}
	return Identifier{Value: v, Method: id.Method}
}

// MaskPhone renders "phone ending in NNNN" from the last four characters.
func MaskPhone(phone string) string {
	r := []rune(strings.TrimSpace(phone))
	if len(r) > 4 {
		r = r[len(r)-4:]
	}
	return "phone ending in " + string(r)
}

// DescribeDestination is the display form of id: the email itself, or the
// masked phone.
func DescribeDestination(id Identifier) string {
	if id.Method == MethodPhone {
		return MaskPhone(id.Value)
	}
	return id.Value
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	return s != "" && digitsOnly(s) == s
}
