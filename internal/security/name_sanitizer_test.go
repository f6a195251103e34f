package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNameSanitizer_Sanitize(t *testing.T) {
	s := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"通常の名前", "alice", "alice"},
		{"日本語", "たろう", "たろう"},
		{"タグを除去", "<b>bob</b>", "bob"},
		{"スクリプトを除去", "<script>alert(1)</script>eve", "eve"},
		{"改行を空白に", "line1\nline2", "line1 line2"},
		{"空文字列", "", "匿名ユーザー"},
		{"タグのみ", "<i></i>", "匿名ユーザー"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input, "匿名ユーザー"); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameSanitizer_EscapesAmpersand(t *testing.T) {
	got := NewNameSanitizer().Sanitize("Tom & Jerry", "x")
	if strings.Contains(got, " & ") {
		t.Errorf("アンパサンドがエスケープされていない: %q", got)
	}
}

func TestNameSanitizer_TruncatesLongNames(t *testing.T) {
	got := NewNameSanitizer().Sanitize(strings.Repeat("あ", 200), "x")
	if n := utf8.RuneCountInString(got); n != maxDisplayNameLength {
		t.Errorf("文字数 = %d, want %d", n, maxDisplayNameLength)
	}
}
