package socket

import (
	"regexp"
	"strconv"
	"unicode/utf16"
)

// Inbound length prefix: 123|
var framePrefix = regexp.MustCompile(`^[0-9]+\|`)

// Frame prefixes a non-empty body with its length in UTF-16 code units and
// a pipe. Empty bodies are sent as-is.
func Frame(body string) string {
	if body == "" {
		return body
	}
	return strconv.Itoa(len(utf16.Encode([]rune(body)))) + "|" + body
}

// Unframe strips one leading length prefix, if any
func Unframe(text string) string {
	loc := framePrefix.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[loc[1]:]
}
