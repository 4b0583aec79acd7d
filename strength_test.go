package goRecover

import "testing"

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcdefgh", 1},
		{"Abc", 1},
		{"abc1", 1},
		{"abc!", 1},
		{"Abcdefgh", 2},
		{"Abcdefg1", 3},
		{"Abcd1234!", 4},
		{"Abcd1235!", 4},
		{"ÄÖÜ12345", 3},
		{"пароль!1", 3},
		{"a b", 1},
	}
	for _, tc := range tests {
		if got := PasswordStrength(tc.in); got != tc.want {
			t.Fatalf("PasswordStrength(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPasswordStrengthCountsRunes(t *testing.T) {
	// Four two-byte runes are eight bytes but only four characters.
	if got := PasswordStrength("éééé"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestEvaluatePassword(t *testing.T) {
	c := EvaluatePassword("Abcd1234!", "")
	if c.Matches || c.CanSubmit {
		t.Fatalf("empty confirmation must not match: %+v", c)
	}

	c = EvaluatePassword("Abcdefg1", "Abcdefg1")
	if !c.StrongEnough || !c.Matches || !c.CanSubmit || c.Score != 3 {
		t.Fatalf("unexpected check %+v", c)
	}

	c = EvaluatePassword("abcdefgh", "abcdefgh")
	if c.StrongEnough || c.CanSubmit {
		t.Fatalf("score %d must not be submittable", c.Score)
	}
}

func TestIsStrongEnoughMatchesThreshold(t *testing.T) {
	for _, pw := range []string{"", "abc", "abcdefgh", "Abcdefgh", "Abcdefg1", "Abcd1234!"} {
		if got, want := IsStrongEnough(pw), PasswordStrength(pw) >= MinPasswordStrength; got != want {
			t.Fatalf("IsStrongEnough(%q) = %v", pw, got)
		}
	}
}
