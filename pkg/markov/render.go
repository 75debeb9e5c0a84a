package markov

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Render joins a generated word sequence into display text: the first letter is
// capitalised, tokens are joined with the tokenizer's separator and the
// tokenizer's EOC string is appended.
func Render(t Tokenizer, tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(capitalize(tokens[0]))
	for i := 1; i < len(tokens); i++ {
		builder.WriteString(t.Separator(tokens[i-1], tokens[i]))
		builder.WriteString(tokens[i])
	}
	builder.WriteString(t.EOC(tokens[len(tokens)-1]))
	return builder.String()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
