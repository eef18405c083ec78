package cmd

import (
	"fmt"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
)

// Generate prints count random passwords. Needs no vault.
func Generate(opts core.GeneratorOptions, count int) {
	if count < 1 {
		count = 1
	}
	for i := 0; i < count; i++ {
		pw, err := core.GeneratePassword(opts)
		if err != nil {
			HandleError(err)
		}
		fmt.Println(pw)
	}
}

// Strength rates a password. With no argument it is read from the terminal.
func Strength(password string) {
	if password == "" {
		pw, err := core.ReadPassword("Password to check: ")
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(pw)
		password = string(pw)
	}

	report := core.CheckStrength(password)
	fmt.Printf("Score: %d/%d (%s)\n", report.Score, core.MaxStrengthScore, report.Label)
	for _, f := range report.Feedback {
		fmt.Printf("  - %s\n", f)
	}
}
