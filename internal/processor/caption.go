package processor

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cxr-dataset-builder/internal/config"
	"cxr-dataset-builder/internal/metadata"
)

// CaptionFor はテンプレートの {finding} を小文字化したラベルで置き換える
func CaptionFor(template, label string) string {
	finding := cases.Lower(language.Und).String(label)
	return strings.ReplaceAll(template, config.FindingPlaceholder, finding)
}

// AddCaptions は各行にキャプションを付与した新しいTableを返す
func AddCaptions(t metadata.Table, template string) metadata.Table {
	out := t.Clone()
	for i := range out {
		out[i].Caption = CaptionFor(template, out[i].FindingLabels)
	}
	return out
}
