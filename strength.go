package goRecover

import "unicode"

const (
	// MinPasswordStrength is the score a new password must reach.
	MinPasswordStrength = 3
	// MaxPasswordStrength is the highest possible score.
	MaxPasswordStrength = 4
)

// PasswordStrength scores s from 0 to 4, one point each for: at least eight
// runes, an upper-case letter, a digit, and a rune that is neither letter nor
// digit.
func PasswordStrength(s string) int {
	var runes int
	var upper, digit, other bool
	for _, r := range s {
		runes++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			other = true
		}
	}

	score := 0
	if runes >= 8 {
		score++
	}
	for _, ok := range [...]bool{upper, digit, other} {
		if ok {
			score++
		}
	}
	return score
}

// IsStrongEnough reports whether s reaches MinPasswordStrength.
func IsStrongEnough(s string) bool {
	return PasswordStrength(s) >= MinPasswordStrength
}

// PasswordCheck is the live evaluation of a (password, confirmation) pair.
type PasswordCheck struct {
	Score        int
	StrongEnough bool
	Matches      bool
	CanSubmit    bool
}

// EvaluatePassword scores newPassword and compares it with confirm. An empty
// confirmation never matches.
func EvaluatePassword(newPassword, confirm string) PasswordCheck {
	score := PasswordStrength(newPassword)
	c := PasswordCheck{
		Score:        score,
		StrongEnough: score >= MinPasswordStrength,
		Matches:      confirm != "" && confirm == newPassword,
	}
	c.CanSubmit = c.StrongEnough && c.Matches
	return c
}
