package htmlsanitize_test

import (
	"testing"

	"github.com/josefm09/tracker/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Grandma's House", "Grandma's House"},
		{"trims", "  Home  ", "Home"},
		{"strips tags", "<b>School</b>", "School"},
		{"drops script", "Work<script>alert(1)</script>", "Work"},
		{"decodes entities", "Tom &amp; Jerry", "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlsanitize.PlainText(tt.in); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlainTextMax(t *testing.T) {
	if got := htmlsanitize.PlainTextMax("abcdef", 3); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
	if got := htmlsanitize.PlainTextMax("héllo", 2); got != "hé" {
		t.Errorf("got %q, want hé", got)
	}
	if got := htmlsanitize.PlainTextMax("abc", 0); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}
