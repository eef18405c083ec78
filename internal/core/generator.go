package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	MinGeneratedLength     = 8
	MaxGeneratedLength     = 64
	DefaultGeneratedLength = 20
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.<>/?~`'\"\\|"

	similarChars   = "il1Lo0O"
	ambiguousChars = "{}[]()/\\'\"`~,;:.<>"
)

// GeneratorOptions selects what GeneratePassword draws from
type GeneratorOptions struct {
	Length           int  `json:"length"`
	Lowercase        bool `json:"lowercase"`
	Uppercase        bool `json:"uppercase"`
	Numbers          bool `json:"numbers"`
	Symbols          bool `json:"symbols"`
	ExcludeSimilar   bool `json:"excludeSimilar"`
	ExcludeAmbiguous bool `json:"excludeAmbiguous"`
}

// DefaultGeneratorOptions enables every class at the default length
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		Length:    DefaultGeneratedLength,
		Lowercase: true,
		Uppercase: true,
		Numbers:   true,
		Symbols:   true,
	}
}

func (o GeneratorOptions) classes() []string {
	var out []string
	add := func(enabled bool, set string) {
		if !enabled {
			return
		}
		set = strings.Map(func(r rune) rune {
			if o.ExcludeSimilar && strings.ContainsRune(similarChars, r) {
				return -1
			}
			if o.ExcludeAmbiguous && strings.ContainsRune(ambiguousChars, r) {
				return -1
			}
			return r
		}, set)
		if set != "" {
			out = append(out, set)
		}
	}
	add(o.Lowercase, lowerChars)
	add(o.Uppercase, upperChars)
	add(o.Numbers, digitChars)
	add(o.Symbols, symbolChars)
	return out
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random: %w", err)
	}
	return int(v.Int64()), nil
}

// GeneratePassword draws a password from the enabled classes using
// crypto/rand only. Every enabled class contributes at least one character.
func GeneratePassword(opts GeneratorOptions) (string, error) {
	if opts.Length < MinGeneratedLength || opts.Length > MaxGeneratedLength {
		return "", validationf("length must be between %d and %d", MinGeneratedLength, MaxGeneratedLength)
	}
	classes := opts.classes()
	if len(classes) == 0 {
		return "", validationf("at least one character class must be enabled")
	}
	charset := strings.Join(classes, "")

	out := make([]byte, 0, opts.Length)
	for _, class := range classes {
		i, err := randIndex(len(class))
		if err != nil {
			return "", err
		}
		out = append(out, class[i])
	}
	for len(out) < opts.Length {
		i, err := randIndex(len(charset))
		if err != nil {
			return "", err
		}
		out = append(out, charset[i])
	}

	// Fisher-Yates
	for i := len(out) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}
