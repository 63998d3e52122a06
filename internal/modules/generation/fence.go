package generation

import (
	"strings"
)

// StripCodeFence removes a surrounding ``` or ```json fence from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func historyLines(b *strings.Builder, history []turnLine) {
	for _, t := range history {
		b.WriteString(t.speaker)
		b.WriteString(": ")
		b.WriteString(t.content)
		b.WriteByte('\n')
	}
}

type turnLine struct {
	speaker string
	content string
}
