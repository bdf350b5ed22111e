package chat

import (
	"regexp"
	"strings"
)

var sentenceBreak = regexp.MustCompile(`\. ([A-Z])`)

// Format puts each sentence that starts with a capital letter on its own
// line and trims the result.
func Format(text string) string {
	return strings.TrimSpace(sentenceBreak.ReplaceAllString(text, ".\n$1"))
}
