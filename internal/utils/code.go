package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeLength is the number of characters in a verification code.
const CodeLength = 6

// CodeAlphabet holds the characters a code may contain. Glyphs that are
// easily confused when read or typed (0/O, 1/I/L) are left out.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode returns a code drawn uniformly from CodeAlphabet using
// crypto/rand.
func GenerateCode() string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic("utils: crypto/rand unavailable: " + err.Error())
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}
	return string(buf)
}

// IsWellFormedCode checks length and alphabet membership only.
func IsWellFormedCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// SanitizeCode upper-cases user input and drops whitespace and any other
// character outside CodeAlphabet.
func SanitizeCode(input string) string {
	var b strings.Builder
	b.Grow(CodeLength)
	for _, r := range strings.ToUpper(input) {
		if r < 128 && strings.IndexByte(CodeAlphabet, byte(r)) >= 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
