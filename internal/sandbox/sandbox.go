// Package sandbox classifies shell commands as allowed, needing
// confirmation, or blocked, spec.md §4.C.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// Mode is a sandbox level.
type Mode string

const (
	Normal     Mode = "normal"
	Confined   Mode = "confined"
	Restricted Mode = "restricted"
)

// Outcome is the classification result for a command.
type Outcome int

const (
	Allowed Outcome = iota
	NeedsConfirmation
	Blocked
)

// ProcessCommands are basenames blocked in confined and restricted mode.
var ProcessCommands = set("kill", "killall", "pkill", "pgrep", "renice", "nice")

// NetworkCommands are basenames blocked in restricted mode only.
var NetworkCommands = set("curl", "wget", "nc", "ncat", "netcat", "ssh", "scp", "sftp",
	"ftp", "telnet", "ping", "traceroute", "nslookup", "dig", "host")

// ProtectedPathPrefixes are substrings that may never appear in a command
// in confined/restricted mode. The `~` entries are expanded against the
// current user's home directory at package init.
var ProtectedPathPrefixes = protectedPaths()

func protectedPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{"/etc/", "/sys/", "/proc/", "/boot/", "/sbin/"}
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".ssh")+"/",
			filepath.Join(home, ".config")+"/",
			filepath.Join(home, ".gnupg")+"/",
		)
	}
	return paths
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// Policy classifies commands for one agent's sandbox mode.
type Policy struct {
	Mode     Mode
	Blocked  []string // literal substrings, checked against the raw command
	Dangerous []string // basenames requiring confirmation, any mode
}

// NewPolicy constructs a Policy. blocked and dangerous come from config.
func NewPolicy(mode Mode, blocked, dangerous []string) Policy {
	return Policy{Mode: mode, Blocked: blocked, Dangerous: dangerous}
}

// Classify applies the layered checks from spec.md §4.C, in order:
//  1. blocked literal substrings (raw command string)
//  2. dangerous basenames (tokenized) -> NeedsConfirmation
//  3. mode-specific rules (confined/restricted only)
func (p Policy) Classify(command string) Outcome {
	for _, b := range p.Blocked {
		if b != "" && strings.Contains(command, b) {
			return Blocked
		}
	}

	tokens := tokenize(command)
	if len(tokens) > 0 {
		bases := basenames(tokens)
		for _, d := range p.Dangerous {
			if _, ok := bases[d]; ok {
				return NeedsConfirmation
			}
		}

		if p.Mode == Confined || p.Mode == Restricted {
			if strings.Contains(command, "..") {
				return Blocked
			}
			for _, prot := range ProtectedPathPrefixes {
				if strings.Contains(command, prot) {
					return Blocked
				}
			}
			if p.Mode == Restricted {
				for b := range bases {
					if _, ok := NetworkCommands[b]; ok {
						return Blocked
					}
				}
			}
			for b := range bases {
				if _, ok := ProcessCommands[b]; ok {
					return Blocked
				}
			}
		}
	}

	return Allowed
}

// tokenize splits a command shell-style, falling back to whitespace
// splitting if the string has unbalanced quotes.
func tokenize(command string) []string {
	tokens, err := shellSplit(command)
	if err != nil {
		return strings.Fields(command)
	}
	return tokens
}

func basenames(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[filepath.Base(t)] = struct{}{}
	}
	return out
}

// shellSplit tokenizes a command the way a POSIX shell would (honoring
// single/double quotes and backslash escapes), without executing it. No
// pack example imports a shell-tokenizing library, so this is hand-rolled
// against the standard library.
func shellSplit(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var inSingle, inDouble, hasToken bool

	flush := func() {
		if hasToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(c)
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			} else if c == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
				i++
				cur.WriteRune(runes[i])
			} else {
				cur.WriteRune(c)
			}
		case c == '\'':
			inSingle = true
			hasToken = true
		case c == '"':
			inDouble = true
			hasToken = true
		case c == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			hasToken = true
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			cur.WriteRune(c)
			hasToken = true
		}
	}
	flush()
	if inSingle || inDouble {
		return nil, errUnbalancedQuotes
	}
	return tokens, nil
}

var errUnbalancedQuotes = unbalancedQuotesErr{}

type unbalancedQuotesErr struct{}

func (unbalancedQuotesErr) Error() string { return "unbalanced quotes" }
