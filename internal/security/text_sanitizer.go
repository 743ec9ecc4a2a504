package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/manabiya/internal/model"
)

// TextSanitizer は利用者が入力したプレーンテキストからHTMLを除去する。
// 支払い方法や請求先情報は請求書やメール本文に埋め込まれるため、保存前に無害化する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去し、前後の空白を取り除いた文字列を返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *TextSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeBillingInfo は請求先情報の各フィールドを無害化したコピーを返す。
// nilまたは全フィールドが空の場合はnilを返す。
func (s *TextSanitizer) SanitizeBillingInfo(info *model.BillingInfo) *model.BillingInfo {
	if info == nil {
		return nil
	}
	out := &model.BillingInfo{
		Name:    s.SanitizeText(info.Name),
		Email:   s.SanitizeText(info.Email),
		Phone:   s.SanitizeText(info.Phone),
		Address: s.SanitizeText(info.Address),
		TaxCode: s.SanitizeText(info.TaxCode),
	}
	if *out == (model.BillingInfo{}) {
		return nil
	}
	return out
}
