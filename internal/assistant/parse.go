package assistant

import (
	"regexp"
	"strings"
)

// MaxButtons caps the number of suggested replies attached to a turn.
const MaxButtons = 3

var (
	responsePattern = regexp.MustCompile(`(?i)RESPONSE:\s*(.+)`)
	buttonsPattern  = regexp.MustCompile(`(?i)BUTTONS:\s*(.+)`)
)

// Reply is one parsed assistant turn.
type Reply struct {
	Text    string   `json:"response"`
	Buttons []string `json:"buttons"`
}

// ParseReply extracts the answer text and suggested reply buttons from the
// model's structured output. Both the RESPONSE and BUTTONS markers must be
// present for structured parsing; otherwise the raw text is returned with
// no buttons, so a model that ignores the format still produces a usable
// turn. Matches stop at the end of the marker's line.
func ParseReply(raw string) Reply {
	responseMatch := matchLine(responsePattern, raw)
	buttonsMatch := matchLine(buttonsPattern, raw)

	if responseMatch == "" || buttonsMatch == "" {
		return Reply{Text: strings.TrimSpace(raw), Buttons: []string{}}
	}

	buttons := make([]string, 0, MaxButtons)
	for _, b := range strings.Split(buttonsMatch, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		buttons = append(buttons, b)
		if len(buttons) == MaxButtons {
			break
		}
	}

	return Reply{Text: responseMatch, Buttons: buttons}
}

// matchLine returns the trimmed first capture group, cut at the first
// newline so the marker only claims its own line.
func matchLine(pattern *regexp.Regexp, raw string) string {
	m := pattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}

	line := m[1]
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
