package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は通知に埋め込む表示名の最大文字数。
const maxDisplayNameLength = 64

// NameSanitizer はユーザーの表示名をHTML形式の通知に埋め込める形に変換する。
// Telegramの表示名は任意の文字列を含められるため、タグを除去しエスケープする。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はタグを一切許可しないポリシーでNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は表示名からタグと改行を除去し、長さを制限して返す。
// 結果が空になる場合はfallbackを返す。
func (s *NameSanitizer) Sanitize(name, fallback string) string {
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}
	cleaned := strings.TrimSpace(s.policy.Sanitize(name))
	if cleaned == "" {
		return fallback
	}
	return cleaned
}
