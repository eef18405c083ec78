package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/illarion/passvault/internal/core"
	"github.com/illarion/passvault/internal/crypto"
)

// AddArgs holds the flags of the add command
type AddArgs struct {
	Domain   string
	Username string
	Notes    string
	Favicon  string
	Tags     string
	Generate bool
}

// Add stores a new credential. The password is generated or prompted for.
func Add(env *Env, args AddArgs) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	var password string
	if args.Generate {
		generated, err := core.GeneratePassword(core.DefaultGeneratorOptions())
		if err != nil {
			HandleError(err)
		}
		password = generated
	} else {
		pw, err := core.ReadPassword("Password for " + args.Domain + ": ")
		if err != nil {
			HandleError(err)
		}
		password = string(pw)
		crypto.ClearBytes(pw)
	}

	id, err := m.AddCredential(core.CredentialInput{
		Domain:   args.Domain,
		Username: args.Username,
		Password: password,
		Notes:    args.Notes,
		Favicon:  args.Favicon,
		Tags:     parseTags(args.Tags),
	})
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Added %s (%s)\n", args.Domain, id)
	if args.Generate {
		fmt.Printf("Generated password: %s\n", password)
	}
}

// List prints credentials, optionally filtered by domain substring
func List(env *Env, domain string, asJSON bool) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	list, err := m.GetCredentials(domain)
	if err != nil {
		HandleError(err)
	}
	printCredentials(list, asJSON)
}

// Search prints credentials whose domain or username contains query
func Search(env *Env, query string, asJSON bool) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	list, err := m.SearchCredentials(query)
	if err != nil {
		HandleError(err)
	}
	printCredentials(list, asJSON)
}

func printCredentials(list *core.CredentialList, asJSON bool) {
	if asJSON {
		printJSON(list)
		return
	}
	if len(list.Credentials) == 0 {
		fmt.Println("No credentials")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tUSERNAME\tTAGS\tLAST USED")
		for _, c := range list.Credentials {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Domain, c.Username, strings.Join(c.Tags, ","), formatTime(c.LastUsedAt))
		}
		w.Flush()
	}
	for _, id := range list.Skipped {
		fmt.Fprintf(os.Stderr, "warning: could not decrypt %s\n", id)
	}
}

// Get prints one credential. With show the password is revealed and the
// use is recorded.
func Get(env *Env, id string, show bool, asJSON bool) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	c, err := m.GetCredential(id)
	if err != nil {
		HandleError(err)
	}
	if show {
		if err := m.RecordUsage(id); err != nil {
			HandleError(err)
		}
	} else {
		c.Password = strings.Repeat("*", 8)
	}

	if asJSON {
		printJSON(c)
		return
	}
	fmt.Printf("ID:        %s\n", c.ID)
	fmt.Printf("Domain:    %s\n", c.Domain)
	fmt.Printf("Username:  %s\n", c.Username)
	fmt.Printf("Password:  %s\n", c.Password)
	if c.Notes != "" {
		fmt.Printf("Notes:     %s\n", c.Notes)
	}
	if len(c.Tags) > 0 {
		fmt.Printf("Tags:      %s\n", strings.Join(c.Tags, ", "))
	}
	fmt.Printf("Created:   %s\n", formatTime(c.CreatedAt))
	fmt.Printf("Modified:  %s\n", formatTime(c.ModifiedAt))
	fmt.Printf("Last used: %s (%d uses)\n", formatTime(c.LastUsedAt), c.UseCount)
}

// UpdateArgs holds the flags of the update command. Empty strings leave a
// field unchanged.
type UpdateArgs struct {
	Domain      string
	Username    string
	Notes       string
	Tags        string
	NewPassword bool
	Generate    bool
}

// Update changes fields of a credential and reports reuse warnings
func Update(env *Env, id string, args UpdateArgs) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	var upd core.CredentialUpdate
	if args.Domain != "" {
		upd.Domain = &args.Domain
	}
	if args.Username != "" {
		upd.Username = &args.Username
	}
	if args.Notes != "" {
		upd.Notes = &args.Notes
	}
	if args.Tags != "" {
		upd.Tags = parseTags(args.Tags)
	}

	var generated string
	switch {
	case args.Generate:
		pw, err := core.GeneratePassword(core.DefaultGeneratorOptions())
		if err != nil {
			HandleError(err)
		}
		generated = pw
		upd.Password = &generated
	case args.NewPassword:
		pw, err := core.ReadPassword("New password: ")
		if err != nil {
			HandleError(err)
		}
		s := string(pw)
		crypto.ClearBytes(pw)
		upd.Password = &s
	}

	res, err := m.UpdateCredential(id, upd)
	if err != nil {
		HandleError(err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	fmt.Printf("✓ Updated %s\n", id)
	if generated != "" {
		fmt.Printf("Generated password: %s\n", generated)
	}
}

// Remove deletes credentials by id
func Remove(env *Env, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "Error: rm requires at least one id\n")
		fmt.Fprintf(os.Stderr, "Usage: passvault rm <id> [id...]\n")
		os.Exit(1)
	}

	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	for _, id := range ids {
		if err := m.DeleteCredential(id); err != nil {
			HandleError(err)
		}
		fmt.Printf("removed: %s\n", id)
	}
}

// History prints the previous passwords of a credential, newest first
func History(env *Env, id string) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	entries, err := m.GetPasswordHistory(id)
	if err != nil {
		HandleError(err)
	}
	if len(entries) == 0 {
		fmt.Println("No password history")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.ChangedAt.Format(time.RFC3339), e.Password)
	}
}

// Dupes prints groups of credentials sharing a password
func Dupes(env *Env) {
	m := env.OpenManager()
	defer m.Close()
	env.UnlockVault(m)

	groups, err := m.FindDuplicates()
	if err != nil {
		HandleError(err)
	}
	if len(groups) == 0 {
		fmt.Println("No reused passwords")
		return
	}
	for i, g := range groups {
		fmt.Printf("Group %d:\n", i+1)
		for _, c := range g {
			fmt.Printf("  %s  %s  %s\n", c.ID, c.Domain, c.Username)
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		HandleError(err)
	}
}
