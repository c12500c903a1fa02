package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		c := GenerateCode()
		assert.Len(t, c, CodeLength)
		assert.True(t, IsWellFormedCode(c), c)
		seen[c] = true
	}
	assert.Greater(t, len(seen), 990, "codes should rarely repeat")
}

func TestCodeAlphabetExcludesAmbiguousGlyphs(t *testing.T) {
	for _, r := range "0O1IL" {
		assert.False(t, strings.ContainsRune(CodeAlphabet, r), string(r))
	}
}

func TestIsWellFormedCode(t *testing.T) {
	assert.True(t, IsWellFormedCode("K3X9P4"))
	assert.False(t, IsWellFormedCode("K3X9P"))
	assert.False(t, IsWellFormedCode("K3X9P4Z"))
	assert.False(t, IsWellFormedCode("k3x9p4"))
	assert.False(t, IsWellFormedCode("K3X9P0"))
	assert.False(t, IsWellFormedCode(""))
}

func TestSanitizeCode(t *testing.T) {
	assert.Equal(t, "K3X9P4", SanitizeCode("k3x9p4"))
	assert.Equal(t, "K3X9P4", SanitizeCode(" k3x 9p4\n"))
	assert.Equal(t, "K3X9P4", SanitizeCode("K3-X9-P4"))
	assert.Equal(t, "K3X9P", SanitizeCode("K3X9P0"))
	assert.Equal(t, "", SanitizeCode("ñ€"))
}
