// Package lang has small helpers for language and text-direction detection.
package lang

import "regexp"

// Direction of a text: "ltr" or "rtl".
type Direction string

const (
	LTR Direction = "ltr"
	RTL Direction = "rtl"
)

var rtlRunes = regexp.MustCompile(`[\x{0600}-\x{06FF}\x{0750}-\x{077F}\x{08A0}-\x{08FF}\x{FB50}-\x{FDFF}\x{FE70}-\x{FEFF}]`)

// Detect returns the language code of the text. A proper detection
// library can slot in later; for now everything registers as English,
// matching the backend's default.
func Detect(text string) string {
	return "en"
}

// DirectionOf reports whether the text reads right-to-left. Text with
// more than 30% Arabic-range runes counts as RTL.
func DirectionOf(text string) Direction {
	runes := []rune(text)
	if len(runes) == 0 {
		return LTR
	}
	rtl := len(rtlRunes.FindAllString(text, -1))
	if float64(rtl)/float64(len(runes)) > 0.3 {
		return RTL
	}
	return LTR
}
