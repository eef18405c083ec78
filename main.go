package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/illarion/passvault/cmd"
	"github.com/illarion/passvault/internal/config"
	"github.com/illarion/passvault/internal/core"
)

func main() {
	// Wipe key material on Ctrl-C as well as on normal exit
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cfg, args, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	env := cmd.NewEnv(cfg)
	defer env.Log.Sync()

	switch args[0] {
	case "init":
		parseNoFlags("init", args[1:])
		cmd.Init(env)
	case "status":
		parseNoFlags("status", args[1:])
		cmd.Status(env)
	case "stats":
		parseNoFlags("stats", args[1:])
		cmd.Stats(env)
	case "add":
		runAdd(env, args[1:])
	case "list", "ls":
		runList(env, args[1:])
	case "search":
		runSearch(env, args[1:])
	case "get":
		runGet(env, args[1:])
	case "update":
		runUpdate(env, args[1:])
	case "rm":
		cmd.Remove(env, parseNoFlags("rm", args[1:]))
	case "history":
		cmd.History(env, oneArg("history", "<id>", parseNoFlags("history", args[1:])))
	case "dupes":
		parseNoFlags("dupes", args[1:])
		cmd.Dupes(env)
	case "note":
		runNote(env, args[1:])
	case "gen":
		runGen(args[1:])
	case "strength":
		rest := parseNoFlags("strength", args[1:])
		password := ""
		if len(rest) > 0 {
			password = rest[0]
		}
		cmd.Strength(password)
	case "export":
		cmd.Export(env, oneArg("export", "<file|->", parseNoFlags("export", args[1:])))
	case "import":
		cmd.Import(env, oneArg("import", "<file|->", parseNoFlags("import", args[1:])))
	case "passwd":
		parseNoFlags("passwd", args[1:])
		cmd.Passwd(env)
	case "keyring":
		runKeyring(env, args[1:])
	case "compact":
		parseNoFlags("compact", args[1:])
		cmd.Compact(env)
	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		force := fs.Bool("force", false, "Reset without confirmation")
		parseOrExit(fs, args[1:])
		cmd.Reset(env, *force)
	case "completion":
		cmd.Completion(oneArg("completion", "<bash|zsh|fish>", args[1:]))
	case "help", "-h", "--help":
		if len(args) <= 1 {
			printUsage()
			return
		}
		printCommandHelp(args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// parseNoFlags rejects flags and returns the positional arguments
func parseNoFlags(name string, args []string) []string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	parseOrExit(fs, args)
	return fs.Args()
}

func oneArg(name, usage string, args []string) string {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: passvault %s %s\n", name, usage)
		os.Exit(1)
	}
	return args[0]
}

func runAdd(env *cmd.Env, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	var a cmd.AddArgs
	fs.StringVar(&a.Domain, "domain", "", "Website domain (required)")
	fs.StringVar(&a.Username, "username", "", "Login name")
	fs.StringVar(&a.Notes, "notes", "", "Free-form notes")
	fs.StringVar(&a.Favicon, "favicon", "", "Favicon URL")
	fs.StringVar(&a.Tags, "tags", "", "Comma separated tags")
	fs.BoolVar(&a.Generate, "generate", false, "Generate a random password")
	parseOrExit(fs, args)

	if a.Domain == "" && fs.NArg() > 0 {
		a.Domain = fs.Arg(0)
	}
	cmd.Add(env, a)
}

func runList(env *cmd.Env, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print as JSON")
	parseOrExit(fs, args)

	cmd.List(env, fs.Arg(0), *asJSON)
}

func runSearch(env *cmd.Env, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print as JSON")
	parseOrExit(fs, args)

	cmd.Search(env, oneArg("search", "<query>", fs.Args()), *asJSON)
}

func runGet(env *cmd.Env, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	show := fs.Bool("show", false, "Reveal the password and record the use")
	asJSON := fs.Bool("json", false, "Print as JSON")
	parseOrExit(fs, args)

	cmd.Get(env, oneArg("get", "[-show] [-json] <id>", fs.Args()), *show, *asJSON)
}

func runUpdate(env *cmd.Env, args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var a cmd.UpdateArgs
	fs.StringVar(&a.Domain, "domain", "", "New domain")
	fs.StringVar(&a.Username, "username", "", "New login name")
	fs.StringVar(&a.Notes, "notes", "", "New notes")
	fs.StringVar(&a.Tags, "tags", "", "New comma separated tags")
	fs.BoolVar(&a.NewPassword, "password", false, "Prompt for a new password")
	fs.BoolVar(&a.Generate, "generate", false, "Generate a new random password")
	parseOrExit(fs, args)

	cmd.Update(env, oneArg("update", "[flags] <id>", fs.Args()), a)
}

func runNote(env *cmd.Env, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: passvault note <add|list|show|edit|rm>")
		os.Exit(1)
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("note add", flag.ExitOnError)
		title := fs.String("title", "", "Note title (required)")
		content := fs.String("content", "-", "Note content, - reads stdin")
		parseOrExit(fs, args[1:])
		cmd.NoteAdd(env, *title, *content)
	case "list", "ls":
		fs := flag.NewFlagSet("note list", flag.ExitOnError)
		asJSON := fs.Bool("json", false, "Print as JSON")
		parseOrExit(fs, args[1:])
		cmd.NoteList(env, fs.Arg(0), *asJSON)
	case "show":
		cmd.NoteShow(env, oneArg("note show", "<id>", args[1:]))
	case "edit":
		fs := flag.NewFlagSet("note edit", flag.ExitOnError)
		title := fs.String("title", "", "New title")
		content := fs.String("content", "", "New content, - reads stdin")
		parseOrExit(fs, args[1:])
		cmd.NoteEdit(env, oneArg("note edit", "[-title t] [-content c] <id>", fs.Args()), *title, *content)
	case "rm":
		cmd.NoteRemove(env, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown note command: %s\n", args[0])
		os.Exit(1)
	}
}

func runGen(args []string) {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	opts := core.DefaultGeneratorOptions()
	fs.IntVar(&opts.Length, "length", opts.Length, "Password length")
	count := fs.Int("count", 1, "Number of passwords")
	noLower := fs.Bool("no-lower", false, "Exclude lowercase letters")
	noUpper := fs.Bool("no-upper", false, "Exclude uppercase letters")
	noNumbers := fs.Bool("no-numbers", false, "Exclude digits")
	noSymbols := fs.Bool("no-symbols", false, "Exclude symbols")
	fs.BoolVar(&opts.ExcludeSimilar, "exclude-similar", false, "Exclude look-alike characters")
	fs.BoolVar(&opts.ExcludeAmbiguous, "exclude-ambiguous", false, "Exclude ambiguous symbols")
	parseOrExit(fs, args)

	opts.Lowercase = !*noLower
	opts.Uppercase = !*noUpper
	opts.Numbers = !*noNumbers
	opts.Symbols = !*noSymbols
	cmd.Generate(opts, *count)
}

func runKeyring(env *cmd.Env, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: passvault keyring <save|delete|status>")
		os.Exit(1)
	}

	switch args[0] {
	case "save":
		cmd.KeyringSave(env)
	case "delete":
		cmd.KeyringDelete(env)
	case "status":
		cmd.KeyringStatus(env)
	default:
		fmt.Fprintf(os.Stderr, "Unknown keyring command: %s\n", args[0])
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("passvault - Local password vault")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  passvault [global flags] <command> [arguments]")
	fmt.Println()
	fmt.Println("Global flags:")
	fmt.Println("  -config <file>         JSON config file (or PASSVAULT_CONFIG)")
	fmt.Println("  -vault <path>          Vault database (or PASSVAULT_PATH)")
	fmt.Println("  -backend <bolt|sqlite> Storage backend (or PASSVAULT_BACKEND)")
	fmt.Println("  -idle-timeout <dur>    Auto-lock window (or PASSVAULT_IDLE_TIMEOUT)")
	fmt.Println("  -log-level <level>     Log level (or PASSVAULT_LOG_LEVEL)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init        Create a vault protected by a master password")
	fmt.Println("  status      Show vault status")
	fmt.Println("  stats       Show credential and note counts")
	fmt.Println("  add         Add a credential")
	fmt.Println("  list, ls    List credentials")
	fmt.Println("  search      Search credentials by domain or username")
	fmt.Println("  get         Show a credential")
	fmt.Println("  update      Update a credential")
	fmt.Println("  rm          Remove credentials")
	fmt.Println("  history     Show previous passwords of a credential")
	fmt.Println("  dupes       Show credentials sharing a password")
	fmt.Println("  note        Manage secure notes")
	fmt.Println("  gen         Generate random passwords")
	fmt.Println("  strength    Check password strength")
	fmt.Println("  export      Write an encrypted backup")
	fmt.Println("  import      Merge an encrypted backup")
	fmt.Println("  passwd      Change master password")
	fmt.Println("  keyring     Manage password in OS keyring")
	fmt.Println("  compact     Compact vault to reclaim disk space")
	fmt.Println("  reset       Erase the vault")
	fmt.Println("  completion  Generate shell completions")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  passvault init                              # Create new vault")
	fmt.Println("  passvault add -domain github.com -generate  # Store a generated password")
	fmt.Println("  passvault get -show <id>                    # Reveal a password")
	fmt.Println("  passvault export backup.json                # Back up the vault")
	fmt.Println()
	fmt.Println("Use 'passvault help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("passvault init")
		fmt.Println()
		fmt.Println("Creates the vault and sets the master password.")
		fmt.Println("The password is read from PASSVAULT_PASSWORD or prompted for twice.")
		fmt.Println("It is not stored anywhere - you must remember it.")
	case "status":
		fmt.Println("passvault status")
		fmt.Println()
		fmt.Println("Shows where the vault lives, its key derivation settings")
		fmt.Println("and whether the keyring holds its password.")
		fmt.Println()
		fmt.Println("Does not require a password.")
	case "add":
		fmt.Println("passvault add -domain <domain> [-username u] [-notes n] [-tags a,b] [-generate]")
		fmt.Println()
		fmt.Println("Adds a credential. The password is prompted for unless -generate is given.")
	case "list", "ls":
		fmt.Println("passvault list [-json] [domain-filter]")
		fmt.Println()
		fmt.Println("Lists credentials, most recently used first.")
	case "search":
		fmt.Println("passvault search [-json] <query>")
		fmt.Println()
		fmt.Println("Finds credentials whose domain or username contains query.")
	case "get":
		fmt.Println("passvault get [-show] [-json] <id>")
		fmt.Println()
		fmt.Println("Shows a credential. -show reveals the password and counts a use.")
	case "update":
		fmt.Println("passvault update [-domain d] [-username u] [-notes n] [-tags a,b] [-password|-generate] <id>")
		fmt.Println()
		fmt.Println("Updates a credential. A replaced password is kept in its history,")
		fmt.Println("and reuse of a previous password is reported as a warning.")
	case "rm":
		fmt.Println("passvault rm <id> [id...]")
		fmt.Println()
		fmt.Println("Removes credentials together with their password history.")
	case "history":
		fmt.Println("passvault history <id>")
		fmt.Println()
		fmt.Println("Shows up to five previous passwords, newest first.")
	case "dupes":
		fmt.Println("passvault dupes")
		fmt.Println()
		fmt.Println("Groups credentials that share the same password.")
	case "note":
		fmt.Println("passvault note add -title <t> [-content c|-]")
		fmt.Println("passvault note list [-json] [title-filter]")
		fmt.Println("passvault note show <id>")
		fmt.Println("passvault note edit [-title t] [-content c|-] <id>")
		fmt.Println("passvault note rm <id> [id...]")
		fmt.Println()
		fmt.Println("Manages secure notes. Content defaults to stdin.")
	case "gen":
		fmt.Println("passvault gen [-length n] [-count n] [-no-lower] [-no-upper] [-no-numbers] [-no-symbols]")
		fmt.Println("              [-exclude-similar] [-exclude-ambiguous]")
		fmt.Println()
		fmt.Println("Generates random passwords containing every enabled character class.")
		fmt.Println("Does not require a vault.")
	case "strength":
		fmt.Println("passvault strength [password]")
		fmt.Println()
		fmt.Println("Scores a password from 0 to 10 and suggests improvements.")
	case "export":
		fmt.Println("passvault export <file|->")
		fmt.Println()
		fmt.Println("Writes every credential, history entry and note as an encrypted bundle.")
	case "import":
		fmt.Println("passvault import <file|->")
		fmt.Println()
		fmt.Println("Merges a bundle. Entries whose ids already exist are skipped.")
		fmt.Println("A bundle from another vault asks for that vault's master password.")
	case "passwd":
		fmt.Println("passvault passwd")
		fmt.Println()
		fmt.Println("Changes the master password and re-encrypts every entry.")
	case "keyring":
		fmt.Println("passvault keyring <save|delete|status>")
		fmt.Println()
		fmt.Println("Stores the master password in the OS keyring so commands")
		fmt.Println("can unlock the vault without prompting.")
	case "compact":
		fmt.Println("passvault compact")
		fmt.Println()
		fmt.Println("Compacts the vault database to reclaim unused disk space.")
		fmt.Println("Does not require a password.")
	case "reset":
		fmt.Println("passvault reset [-force]")
		fmt.Println()
		fmt.Println("Erases every entry and the master password.")
	case "completion":
		fmt.Println("passvault completion <bash|zsh|fish>")
		fmt.Println()
		fmt.Println("Outputs shell completion script for the specified shell.")
		fmt.Println()
		fmt.Println("Setup:")
		fmt.Println("  # Bash - add to ~/.bashrc")
		fmt.Println("  eval \"$(passvault completion bash)\"")
		fmt.Println()
		fmt.Println("  # Zsh - add to ~/.zshrc")
		fmt.Println("  eval \"$(passvault completion zsh)\"")
		fmt.Println()
		fmt.Println("  # Fish - add to ~/.config/fish/config.fish")
		fmt.Println("  passvault completion fish | source")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
