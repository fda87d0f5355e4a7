package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInputMessage(t *testing.T) {
	parsed := ParseInput("hello there")
	assert.Equal(t, KindMessage, parsed.Kind)
	assert.Equal(t, "hello there", parsed.Raw)
}

func TestParseInputEmpty(t *testing.T) {
	parsed := ParseInput("")
	assert.Equal(t, KindMessage, parsed.Kind)
}

func TestParseInputCommand(t *testing.T) {
	parsed := ParseInput("/model anthropic/claude-sonnet")
	assert.Equal(t, KindCommand, parsed.Kind)
	assert.Equal(t, "model", parsed.Name)
	assert.Equal(t, "anthropic/claude-sonnet", parsed.Args)
}

func TestParseInputLowercasesName(t *testing.T) {
	parsed := ParseInput("/ABORT")
	assert.Equal(t, "abort", parsed.Name)
}

func TestParseInputResolvesAliases(t *testing.T) {
	assert.Equal(t, "newsession", ParseInput("/ns").Name)
	assert.Equal(t, "elevated", ParseInput("/elev on").Name)
	assert.Equal(t, "on", ParseInput("/elev on").Args)
}

func TestParseInputSlashThenSpace(t *testing.T) {
	parsed := ParseInput("/ trailing")
	assert.Equal(t, KindCommand, parsed.Kind)
	assert.Equal(t, "", parsed.Name)
	assert.Equal(t, "trailing", parsed.Args)
}

func TestParseInputBang(t *testing.T) {
	parsed := ParseInput("!ls -la")
	assert.Equal(t, KindBang, parsed.Kind)
	assert.Equal(t, "ls -la", parsed.Name)
}

func TestCommandSuggestionsIncludeAliases(t *testing.T) {
	suggestions := CommandSuggestions()
	assert.Contains(t, suggestions, "/abort")
	assert.Contains(t, suggestions, "/ns")
	for _, s := range suggestions {
		assert.True(t, strings.HasPrefix(s, "/"))
	}
}

func TestFormatHelpListsEveryCommand(t *testing.T) {
	help := FormatHelp()
	for name := range Commands {
		assert.Contains(t, help, "/"+name)
	}
}
