package lang

import "testing"

func TestDirectionOf(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Direction
	}{
		{"english", "hello world", LTR},
		{"arabic", "السلام عليكم ورحمة الله", RTL},
		{"mostly english with a word", "the word سلام means peace in Arabic", LTR},
		{"empty", "", LTR},
		{"numbers only", "12345", LTR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectionOf(tt.in); got != tt.want {
				t.Errorf("DirectionOf(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	if got := Detect("hello"); got != "en" {
		t.Errorf("Detect = %q", got)
	}
}
