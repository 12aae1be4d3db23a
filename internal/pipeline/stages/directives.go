package stages

import (
	"regexp"
	"strings"
)

// WriteDirective is one file write requested by the model.
type WriteDirective struct {
	Path string
	Body string
}

var writeFileRE = regexp.MustCompile(`(?s)<write_file path=["'](.*?)["']>\s*\n?(.*?)\n?\s*</write_file>`)

// ParseDirectives returns the write directives in text, in order. Bodies
// are trimmed; text outside directives is ignored.
func ParseDirectives(text string) []WriteDirective {
	matches := writeFileRE.FindAllStringSubmatch(text, -1)
	out := make([]WriteDirective, 0, len(matches))
	for _, m := range matches {
		out = append(out, WriteDirective{
			Path: strings.TrimSpace(m[1]),
			Body: strings.TrimSpace(m[2]),
		})
	}
	return out
}
