package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BashCompletion is the bash completion script for settlectl.
const BashCompletion = `#!/bin/bash
# Bash completion for settlectl

_settlectl_completion() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    local commands="migrate reconcile economy completion help"
    local migrate_cmds="up down status"
    local economy_cmds="check"
    local global_flags="--economy --help"

    case "${prev}" in
        migrate)
            COMPREPLY=( $(compgen -W "${migrate_cmds}" -- ${cur}) )
            return 0
            ;;
        economy)
            COMPREPLY=( $(compgen -W "${economy_cmds}" -- ${cur}) )
            return 0
            ;;
        completion)
            COMPREPLY=( $(compgen -W "print install" -- ${cur}) )
            return 0
            ;;
        print|install)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            return 0
            ;;
        --economy)
            COMPREPLY=( $(compgen -f -X '!*.y*ml' -- ${cur}) )
            return 0
            ;;
    esac

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "${commands} ${global_flags}" -- ${cur}) )
        return 0
    fi
}

complete -F _settlectl_completion settlectl
`

// ZshCompletion is the zsh completion script for settlectl.
const ZshCompletion = `#compdef settlectl

_settlectl() {
    local -a commands migrate_cmds economy_cmds completion_cmds

    commands=(
        'migrate:Manage database migrations'
        'reconcile:Compare stored balances with the ledger'
        'economy:Inspect economy tables'
        'completion:Generate shell completion'
        'help:Show help information'
    )
    migrate_cmds=(
        'up:Apply pending migrations'
        'down:Roll back every migration'
        'status:Show the applied migration version'
    )
    economy_cmds=(
        'check:Validate an economy tables file'
    )
    completion_cmds=(
        'print:Print the completion script'
        'install:Install the completion script under $HOME'
    )

    _arguments -C \
        '--economy[Economy tables YAML]:file:_files -g "*.y(a|)ml"' \
        '1: :->command' \
        '2: :->subcommand' \
        '3: :->shell'

    case $state in
        command)
            _describe 'command' commands
            ;;
        subcommand)
            case $words[2] in
                migrate)
                    _describe 'migrate command' migrate_cmds
                    ;;
                economy)
                    _describe 'economy command' economy_cmds
                    ;;
                completion)
                    _describe 'completion command' completion_cmds
                    ;;
            esac
            ;;
        shell)
            [[ $words[2] == completion ]] && _values 'shell' bash zsh fish
            ;;
    esac
}

_settlectl "$@"
`

// FishCompletion is the fish completion script for settlectl.
const FishCompletion = `# Fish completion for settlectl

complete -c settlectl -f -n "__fish_use_subcommand" -a "migrate" -d "Manage database migrations"
complete -c settlectl -f -n "__fish_use_subcommand" -a "reconcile" -d "Compare stored balances with the ledger"
complete -c settlectl -f -n "__fish_use_subcommand" -a "economy" -d "Inspect economy tables"
complete -c settlectl -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion"
complete -c settlectl -f -n "__fish_use_subcommand" -a "help" -d "Show help information"

complete -c settlectl -f -n "__fish_seen_subcommand_from migrate" -a "up" -d "Apply pending migrations"
complete -c settlectl -f -n "__fish_seen_subcommand_from migrate" -a "down" -d "Roll back every migration"
complete -c settlectl -f -n "__fish_seen_subcommand_from migrate" -a "status" -d "Show the applied migration version"

complete -c settlectl -f -n "__fish_seen_subcommand_from economy" -a "check" -d "Validate an economy tables file"

complete -c settlectl -f -n "__fish_seen_subcommand_from completion; and not __fish_seen_subcommand_from print install" -a "print install"
complete -c settlectl -f -n "__fish_seen_subcommand_from print install" -a "bash zsh fish"

complete -c settlectl -l economy -r -d "Economy tables YAML"
complete -c settlectl -l help -d "Show help information"
`

func completionScript(shell string) (string, error) {
	switch shell {
	case "bash":
		return BashCompletion, nil
	case "zsh":
		return ZshCompletion, nil
	case "fish":
		return FishCompletion, nil
	default:
		return "", fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
	}
}

// GenerateCompletion writes the completion script for shell to w.
func GenerateCompletion(w io.Writer, shell string) error {
	script, err := completionScript(shell)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, script)
	return err
}

// InstallCompletion writes the completion script under home and returns its path.
func InstallCompletion(home, shell string) (string, error) {
	script, err := completionScript(shell)
	if err != nil {
		return "", err
	}
	if home == "" {
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
	}

	var installPath string
	switch shell {
	case "bash":
		installPath = filepath.Join(home, ".bash_completion.d", "settlectl")
	case "zsh":
		installPath = filepath.Join(home, ".zsh", "completion", "_settlectl")
	case "fish":
		installPath = filepath.Join(home, ".config", "fish", "completions", "settlectl.fish")
	}
	if err := os.MkdirAll(filepath.Dir(installPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(installPath, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("failed to write completion script: %w", err)
	}
	return installPath, nil
}
