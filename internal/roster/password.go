package roster

import (
	"crypto/rand"
	"math/big"
)

// Character classes for generated passwords. At least one of each is
// guaranteed so the result satisfies typical platform complexity rules.
const (
	pwLower   = "abcdefghijklmnopqrstuvwxyz"
	pwUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	pwDigits  = "0123456789"
	pwSymbols = "!@#$%^&*()-_=+[]{}"
)

// PasswordLength is the length of generated passwords.
const PasswordLength = 16

// StrongPassword generates a random password containing at least one
// lowercase letter, one uppercase letter, one digit, and one symbol.
// Passwords are generated server-side for new accounts and must never be
// logged, exported, or included in outcome events.
func StrongPassword() string {
	all := pwLower + pwUpper + pwDigits + pwSymbols

	pw := make([]byte, 0, PasswordLength)
	pw = append(pw,
		pwLower[randIndex(len(pwLower))],
		pwUpper[randIndex(len(pwUpper))],
		pwDigits[randIndex(len(pwDigits))],
		pwSymbols[randIndex(len(pwSymbols))],
	)
	for len(pw) < PasswordLength {
		pw = append(pw, all[randIndex(len(all))])
	}

	// Fisher-Yates shuffle so the guaranteed classes are not positional.
	for i := len(pw) - 1; i > 0; i-- {
		j := randIndex(i + 1)
		pw[i], pw[j] = pw[j], pw[i]
	}
	return string(pw)
}

// randIndex returns a uniform random int in [0, n) from crypto/rand.
func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken;
		// nothing sensible can continue without randomness.
		panic(err)
	}
	return int(v.Int64())
}
