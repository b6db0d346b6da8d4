package roster

import (
	"strings"
	"testing"
)

func TestStrongPassword(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		pw := StrongPassword()

		if len(pw) != PasswordLength {
			t.Fatalf("password length = %d, want %d", len(pw), PasswordLength)
		}
		if !strings.ContainsAny(pw, pwLower) {
			t.Errorf("password %q lacks a lowercase letter", pw)
		}
		if !strings.ContainsAny(pw, pwUpper) {
			t.Errorf("password %q lacks an uppercase letter", pw)
		}
		if !strings.ContainsAny(pw, pwDigits) {
			t.Errorf("password %q lacks a digit", pw)
		}
		if !strings.ContainsAny(pw, pwSymbols) {
			t.Errorf("password %q lacks a symbol", pw)
		}

		if seen[pw] {
			t.Fatalf("duplicate password generated: %q", pw)
		}
		seen[pw] = true
	}
}
