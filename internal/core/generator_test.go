package core

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePasswordAlphanumeric(t *testing.T) {
	opts := GeneratorOptions{Length: 20, Uppercase: true, Lowercase: true, Numbers: true}

	for i := 0; i < 200; i++ {
		pw, err := GeneratePassword(opts)
		require.NoError(t, err)
		require.Len(t, pw, 20)

		var upper, digit bool
		for _, r := range pw {
			require.True(t, r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), "unexpected %q in %s", r, pw)
			upper = upper || unicode.IsUpper(r)
			digit = digit || unicode.IsDigit(r)
		}
		assert.True(t, upper, "no uppercase in %s", pw)
		assert.True(t, digit, "no digit in %s", pw)
	}
}

func TestGeneratePasswordLengthBounds(t *testing.T) {
	opts := DefaultGeneratorOptions()

	for _, n := range []int{0, 7, 65} {
		opts.Length = n
		_, err := GeneratePassword(opts)
		assert.ErrorIs(t, err, ErrValidation, "length %d", n)
	}
	for _, n := range []int{MinGeneratedLength, MaxGeneratedLength} {
		opts.Length = n
		pw, err := GeneratePassword(opts)
		require.NoError(t, err)
		assert.Len(t, pw, n)
	}
}

func TestGeneratePasswordNoClasses(t *testing.T) {
	_, err := GeneratePassword(GeneratorOptions{Length: 12})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGeneratePasswordExclusions(t *testing.T) {
	opts := DefaultGeneratorOptions()
	opts.Length = 64
	opts.ExcludeSimilar = true
	opts.ExcludeAmbiguous = true

	for i := 0; i < 100; i++ {
		pw, err := GeneratePassword(opts)
		require.NoError(t, err)
		assert.False(t, strings.ContainsAny(pw, similarChars), pw)
		assert.False(t, strings.ContainsAny(pw, ambiguousChars), pw)
	}
}

func TestGeneratePasswordEveryClassPresent(t *testing.T) {
	opts := GeneratorOptions{Length: 8, Lowercase: true, Uppercase: true, Numbers: true, Symbols: true}

	for i := 0; i < 200; i++ {
		pw, err := GeneratePassword(opts)
		require.NoError(t, err)
		assert.True(t, strings.ContainsAny(pw, lowerChars), pw)
		assert.True(t, strings.ContainsAny(pw, upperChars), pw)
		assert.True(t, strings.ContainsAny(pw, digitChars), pw)
		assert.True(t, strings.ContainsAny(pw, symbolChars), pw)
	}
}

func TestGeneratePasswordUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pw, err := GeneratePassword(DefaultGeneratorOptions())
		require.NoError(t, err)
		require.False(t, seen[pw])
		seen[pw] = true
	}
}
