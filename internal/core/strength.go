package core

import (
	"unicode"
)

// StrengthLabel buckets a strength score
type StrengthLabel string

const (
	Weak       StrengthLabel = "Weak"
	Fair       StrengthLabel = "Fair"
	Strong     StrengthLabel = "Strong"
	VeryStrong StrengthLabel = "VeryStrong"
)

// MaxStrengthScore caps the score
const MaxStrengthScore = 10

// DefaultMinStrengthScore is the lowest score accepted for a master password
const DefaultMinStrengthScore = 3

// StrengthReport is the result of CheckStrength
type StrengthReport struct {
	Score    int           `json:"score"`
	Label    StrengthLabel `json:"label"`
	Feedback []string      `json:"feedback"`
}

// CheckStrength scores password with a point heuristic. Length tiers and
// character classes add points; uniform or repetitive content removes them.
func CheckStrength(password string) StrengthReport {
	feedback := []string{}
	score := 0

	n := len([]rune(password))
	for _, tier := range []int{8, 12, 16} {
		if n >= tier {
			score++
		}
	}
	if n < 8 {
		feedback = append(feedback, "Use at least 8 characters")
	} else if n < 12 {
		feedback = append(feedback, "Use 12 or more characters for a stronger password")
	}

	var lower, upper, digit, symbol, letters, digits int
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower++
			letters++
		case unicode.IsUpper(r):
			upper++
			letters++
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digit++
			digits++
		default:
			symbol++
		}
	}

	classes := []struct {
		count int
		hint  string
	}{
		{lower, "Add lowercase letters"},
		{upper, "Add uppercase letters"},
		{digit, "Add numbers"},
		{symbol, "Add symbols"},
	}
	for _, c := range classes {
		if c.count > 0 {
			score++
		} else {
			feedback = append(feedback, c.hint)
		}
	}

	if n > 0 && digits == n {
		score--
		feedback = append(feedback, "Avoid using only numbers")
	}
	if n > 0 && letters == n {
		score--
		feedback = append(feedback, "Avoid using only letters")
	}
	if hasRun(password, 3) {
		score--
		feedback = append(feedback, "Avoid repeated characters")
	}

	score = max(0, min(score, MaxStrengthScore))
	return StrengthReport{Score: score, Label: labelFor(score), Feedback: feedback}
}

func labelFor(score int) StrengthLabel {
	switch {
	case score < 3:
		return Weak
	case score < 5:
		return Fair
	case score < 7:
		return Strong
	default:
		return VeryStrong
	}
}

// hasRun reports whether s contains n or more identical consecutive runes
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for i, r := range s {
		if i > 0 && r == prev {
			count++
		} else {
			count = 1
		}
		if count >= n {
			return true
		}
		prev = r
	}
	return false
}
