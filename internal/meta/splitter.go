package meta

import (
	"regexp"
	"unicode/utf8"
)

// maxMessageLength is WhatsApp's per-message character limit, measured in
// runes so multi-byte scripts split correctly.
const maxMessageLength = 4000

var (
	splitHeaderRe    = regexp.MustCompile(`\*_[^*_]+_\*`)
	splitBoldRe      = regexp.MustCompile(`\*[^*]+\*`)
	splitParagraphRe = regexp.MustCompile(`\n\n+`)
)

// SplitMessage breaks a long message into sendable chunks, preferring
// natural boundaries: formatted headers first, then bold spans, then
// paragraphs, then fixed-size slices as a last resort.
func SplitMessage(text string) []string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return []string{text}
	}
	if chunks := splitByPattern(text, splitHeaderRe, splitByBold); len(chunks) > 1 {
		return chunks
	}
	return splitByBold(text)
}

func splitByBold(text string) []string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return []string{text}
	}
	if chunks := splitByPattern(text, splitBoldRe, splitByParagraphs); len(chunks) > 1 {
		return chunks
	}
	return splitByParagraphs(text)
}

// splitByPattern cuts the text at each pattern occurrence. Text before
// the first occurrence gets its own chunk; oversized chunks are handed
// to the fallback splitter.
func splitByPattern(text string, re *regexp.Regexp, fallback func(string) []string) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) <= 1 {
		return []string{text}
	}

	var chunks []string
	add := func(chunk string) {
		if utf8.RuneCountInString(chunk) <= maxMessageLength {
			chunks = append(chunks, chunk)
		} else {
			chunks = append(chunks, fallback(chunk)...)
		}
	}

	if locs[0][0] > 0 {
		prefix := text[:locs[0][0]]
		if utf8.RuneCountInString(prefix) <= maxMessageLength {
			chunks = append(chunks, prefix)
		} else {
			chunks = append(chunks, splitByParagraphs(prefix)...)
		}
	}
	for i, loc := range locs {
		end := len(text)
		if i < len(locs)-1 {
			end = locs[i+1][0]
		}
		add(text[loc[0]:end])
	}
	return chunks
}

func splitByParagraphs(text string) []string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return []string{text}
	}

	paragraphs := splitParagraphRe.Split(text, -1)
	if len(paragraphs) <= 1 {
		return splitFixed(text)
	}

	var chunks []string
	current := ""
	for _, para := range paragraphs {
		if current != "" && utf8.RuneCountInString(current)+utf8.RuneCountInString(para)+2 > maxMessageLength {
			chunks = append(chunks, current)
			current = ""
		}
		if utf8.RuneCountInString(para) > maxMessageLength {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, splitFixed(para)...)
			continue
		}
		if current != "" {
			current += "\n\n" + para
		} else {
			current = para
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitFixed(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	for i := 0; i < len(runes); i += maxMessageLength {
		end := i + maxMessageLength
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
