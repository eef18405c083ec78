package cmd

import (
	"fmt"
	"os"
)

// Completion outputs shell completion scripts
func Completion(shell string) {
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unknown shell: %s\nSupported: bash, zsh, fish\n", shell)
		os.Exit(1)
	}
}

const bashCompletion = `_passvault() {
    local cur prev words cword
    _init_completion || return

    local commands="init status stats add list search get update rm history dupes note gen strength export import passwd keyring compact reset help completion"

    if [[ $cword -eq 1 ]]; then
        COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        return
    fi

    local cmd="${words[1]}"
    case "$cmd" in
        add)
            COMPREPLY=($(compgen -W "-domain -username -notes -favicon -tags -generate" -- "$cur"))
            ;;
        update)
            COMPREPLY=($(compgen -W "-domain -username -notes -tags -password -generate" -- "$cur"))
            ;;
        list|search)
            COMPREPLY=($(compgen -W "-json" -- "$cur"))
            ;;
        get)
            COMPREPLY=($(compgen -W "-show -json" -- "$cur"))
            ;;
        gen)
            COMPREPLY=($(compgen -W "-length -count -no-lower -no-upper -no-numbers -no-symbols -exclude-similar -exclude-ambiguous" -- "$cur"))
            ;;
        note)
            COMPREPLY=($(compgen -W "add list show edit rm" -- "$cur"))
            ;;
        export|import)
            _filedir
            ;;
        reset)
            COMPREPLY=($(compgen -W "-force" -- "$cur"))
            ;;
        keyring)
            COMPREPLY=($(compgen -W "save delete status" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
    esac
}

complete -F _passvault passvault
`

const zshCompletion = `#compdef passvault

_passvault() {
    local -a commands
    commands=(
        'init:Create a vault protected by a master password'
        'status:Show vault status'
        'stats:Show vault statistics'
        'add:Add a credential'
        'list:List credentials'
        'search:Search credentials'
        'get:Show a credential'
        'update:Update a credential'
        'rm:Remove credentials'
        'history:Show previous passwords of a credential'
        'dupes:Show reused passwords'
        'note:Manage secure notes'
        'gen:Generate passwords'
        'strength:Check password strength'
        'export:Export an encrypted backup'
        'import:Import an encrypted backup'
        'passwd:Change master password'
        'keyring:Manage password in OS keyring'
        'compact:Compact vault to reclaim disk space'
        'reset:Erase the vault'
        'help:Show help for a command'
        'completion:Generate shell completions'
    )

    _arguments -C \
        '1: :->command' \
        '*: :->args'

    case "$state" in
        command)
            _describe -t commands 'passvault commands' commands
            ;;
        args)
            case "${words[2]}" in
                get)
                    _arguments \
                        '-show[Reveal the password and record the use]' \
                        '-json[Print as JSON]'
                    ;;
                gen)
                    _arguments \
                        '-length[Password length]:length' \
                        '-count[Number of passwords]:count' \
                        '-exclude-similar[Skip look-alike characters]' \
                        '-exclude-ambiguous[Skip ambiguous symbols]'
                    ;;
                note)
                    _values 'subcommand' add list show edit rm
                    ;;
                export|import)
                    _arguments '*:file:_files'
                    ;;
                keyring)
                    _values 'subcommand' save delete status
                    ;;
                help)
                    _describe -t commands 'passvault commands' commands
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_passvault "$@"
`

const fishCompletion = `# passvault fish completions

set -l commands init status stats add list search get update rm history dupes note gen strength export import passwd keyring compact reset help completion

complete -c passvault -f

# Commands
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a init -d 'Create a vault'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a status -d 'Show vault status'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a stats -d 'Show vault statistics'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a add -d 'Add a credential'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a list -d 'List credentials'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a search -d 'Search credentials'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a get -d 'Show a credential'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a update -d 'Update a credential'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a rm -d 'Remove credentials'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a history -d 'Show password history'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a dupes -d 'Show reused passwords'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a note -d 'Manage secure notes'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a gen -d 'Generate passwords'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a strength -d 'Check password strength'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a export -d 'Export a backup'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a import -d 'Import a backup'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a passwd -d 'Change master password'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a keyring -d 'Manage password in OS keyring'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a compact -d 'Compact vault'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a reset -d 'Erase the vault'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'
complete -c passvault -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'

# get flags
complete -c passvault -n "__fish_seen_subcommand_from get" -o show -d 'Reveal the password'
complete -c passvault -n "__fish_seen_subcommand_from get" -o json -d 'Print as JSON'

# export/import files
complete -c passvault -n "__fish_seen_subcommand_from export import" -F

# note subcommands
complete -c passvault -n "__fish_seen_subcommand_from note" -a "add list show edit rm"

# keyring subcommands
complete -c passvault -n "__fish_seen_subcommand_from keyring" -a "save delete status"

# help completions
complete -c passvault -n "__fish_seen_subcommand_from help" -a "$commands"

# completion completions
complete -c passvault -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
