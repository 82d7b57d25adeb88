package llm

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripCodeFence removes one surrounding markdown code fence, if present.
// The content inside must still parse on its own.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
