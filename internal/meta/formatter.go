package meta

import (
	"regexp"
	"strings"
)

// Markdown from the backend uses conventional syntax; WhatsApp wants its
// own (*bold*, _italic_, no headers). Conversion order matters: italics
// before bold, or the doubled asterisks would be eaten first.

// Italic *text* becomes _text_. RE2 has no lookaround, so the guard
// against adjacent '*' or '_' is a captured boundary character; the
// replacement loop below handles matches made adjacent by consumption.
var italicRe = regexp.MustCompile(`(^|[^*_])\*([^*_]+?)\*($|[^*_])`)

// Headers (# Title) become *_Title_*, stripping any bold/italic marks
// already around the title text.
var headerRe = regexp.MustCompile(`(?m)^#{1,6} \**_*([^\n]*?)\**_*\n\n?`)

var (
	nestedNumberRe = regexp.MustCompile(`^(\s*)(\d+)\. `)
	nestedBulletRe = regexp.MustCompile(`^(\s*)[*-] `)
	leadingSpaceRe = regexp.MustCompile(`^(\s+)`)
)

// FormatForWhatsApp converts conventional markdown to WhatsApp markup.
func FormatForWhatsApp(text string) string {
	text = convertItalics(text)
	text = strings.ReplaceAll(text, "**", "*")
	text = headerRe.ReplaceAllString(text, "*_${1}_*\n\n")
	return formatNestedLists(text)
}

func convertItalics(text string) string {
	// Each pass consumes the boundary character after a match, which can
	// hide an immediately following italic span. Iterate until stable.
	for i := 0; i < 4; i++ {
		next := italicRe.ReplaceAllString(text, "${1}_${2}_${3}")
		if next == text {
			break
		}
		text = next
	}
	return text
}

// formatNestedLists rewrites indented list items so WhatsApp renders the
// nesting: "  2. x" -> "  2 - x", "  - x" -> "  -- x". Top-level items
// keep their original form.
func formatNestedLists(text string) string {
	lines := strings.Split(text, "\n")
	inNested := false
	nestedIndent := 0

	for i, line := range lines {
		indent := 0
		if strings.TrimSpace(line) != "" {
			if m := leadingSpaceRe.FindString(line); m != "" {
				indent = len(m)
			}
		}

		numbered := nestedNumberRe.MatchString(line)
		bullet := nestedBulletRe.MatchString(line)

		switch {
		case (numbered || bullet) && indent > 0:
			if !inNested {
				inNested = true
				nestedIndent = indent
			}
			if numbered {
				lines[i] = nestedNumberRe.ReplaceAllString(line, "$1$2 - ")
			} else {
				lines[i] = nestedBulletRe.ReplaceAllString(line, "$1-- ")
			}
		case inNested && indent < nestedIndent:
			inNested = false
		}
	}
	return strings.Join(lines, "\n")
}
