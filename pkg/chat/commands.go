package chat

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// InputKind classifies raw operator input.
type InputKind string

const (
	KindCommand InputKind = "command"
	KindBang    InputKind = "bang"
	KindMessage InputKind = "message"
)

// ParsedInput is one classified line of operator input.
type ParsedInput struct {
	Kind InputKind
	Name string // canonical command name, or the shell text for bang input
	Args string
	Raw  string
}

// Commands maps canonical slash command names to their descriptions.
var Commands = map[string]string{
	"help":       "Show available commands",
	"commands":   "List slash commands",
	"status":     "Show gateway status",
	"agent":      "Switch agent (or list when omitted)",
	"agents":     "List agents",
	"session":    "Switch session (or list when omitted)",
	"sessions":   "List sessions",
	"model":      "Set model (or list when omitted)",
	"models":     "List models",
	"think":      "Set thinking level",
	"verbose":    "Set verbose on/off",
	"reasoning":  "Set reasoning on/off",
	"usage":      "Set usage footer mode",
	"elevated":   "Set elevated mode",
	"activation": "Set activation mode",
	"newsession": "Create fresh main session",
	"new":        "Reset current session",
	"reset":      "Reset current session",
	"abort":      "Abort active run",
	"history":    "Reload message history [n]",
	"clear":      "Clear chat display",
	"exit":       "Exit",
	"quit":       "Exit",
}

// Aliases maps shorthand names onto canonical commands.
var Aliases = map[string]string{
	"elev": "elevated",
	"ns":   "newsession",
}

// CommandUsage gives the argument shape for each command.
var CommandUsage = map[string]string{
	"help":       "/help",
	"commands":   "/commands",
	"status":     "/status",
	"agent":      "/agent [agent-id]",
	"agents":     "/agents",
	"session":    "/session [session-key]",
	"sessions":   "/sessions",
	"model":      "/model [provider/model]",
	"models":     "/models",
	"think":      "/think <level>",
	"verbose":    "/verbose <on|off>",
	"reasoning":  "/reasoning <on|off>",
	"usage":      "/usage <off|tokens|full>",
	"elevated":   "/elevated <on|off>",
	"activation": "/activation <mode>",
	"newsession": "/newsession [provider/model] [label]",
	"new":        "/new",
	"reset":      "/reset",
	"abort":      "/abort",
	"history":    "/history [n]",
	"clear":      "/clear",
	"exit":       "/exit",
	"quit":       "/quit",
}

// ParseInput classifies one raw input line. A leading "/" yields a command
// with the name lowercased and aliases resolved; a leading "!" yields a shell
// passthrough; anything else is an ordinary chat message.
func ParseInput(raw string) ParsedInput {
	if raw == "" {
		return ParsedInput{Kind: KindMessage, Raw: raw}
	}

	if strings.HasPrefix(raw, "/") {
		content := raw[1:]
		if content != "" && unicode.IsSpace(rune(content[0])) {
			return ParsedInput{Kind: KindCommand, Args: strings.TrimLeft(content, " \t"), Raw: raw}
		}
		name, args := splitCommand(content)
		name = strings.ToLower(name)
		if canonical, ok := Aliases[name]; ok {
			name = canonical
		}
		return ParsedInput{Kind: KindCommand, Name: name, Args: args, Raw: raw}
	}

	if strings.HasPrefix(raw, "!") {
		return ParsedInput{Kind: KindBang, Name: raw[1:], Raw: raw}
	}

	return ParsedInput{Kind: KindMessage, Raw: raw}
}

func splitCommand(content string) (name, args string) {
	idx := strings.IndexFunc(content, unicode.IsSpace)
	if idx < 0 {
		return content, ""
	}
	return content[:idx], strings.TrimSpace(content[idx+1:])
}

// CommandSuggestions returns slash commands for autocomplete, sorted.
func CommandSuggestions() []string {
	out := make([]string, 0, len(Commands)+len(Aliases))
	for name := range Commands {
		out = append(out, "/"+name)
	}
	for name := range Aliases {
		out = append(out, "/"+name)
	}
	sort.Strings(out)
	return out
}

// FormatHelp renders the aligned command listing shown by /help.
func FormatHelp() string {
	names := make([]string, 0, len(Commands))
	width := 0
	for name := range Commands {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Slash commands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  /%-*s  %s\n", width, name, Commands[name])
	}
	b.WriteString("\nShell:\n")
	b.WriteString("  !<command>  Run a local shell command")
	return b.String()
}
