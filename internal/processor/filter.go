package processor

import (
	"strings"

	"cxr-dataset-builder/internal/metadata"
)

// Normalize は所見ラベル・撮影方向・性別の前後の空白を除去した新しいTableを返す
func Normalize(t metadata.Table) metadata.Table {
	out := t.Clone()
	for i := range out {
		out[i].FindingLabels = strings.TrimSpace(out[i].FindingLabels)
		out[i].ViewPosition = strings.TrimSpace(out[i].ViewPosition)
		out[i].PatientGender = strings.TrimSpace(out[i].PatientGender)
	}
	return out
}

// FilterSingleLabel は単一所見の行だけを残す
//
// multi は複数所見で除外した行数、empty はラベルが空で除外した行数。
// 空のラベルは所見ではないため残さない。
func FilterSingleLabel(t metadata.Table) (out metadata.Table, multi, empty int) {
	out = make(metadata.Table, 0, len(t))
	for _, r := range t {
		switch {
		case r.FindingLabels == "":
			empty++
		case strings.Contains(r.FindingLabels, metadata.LabelDelimiter):
			multi++
		default:
			out = append(out, r)
		}
	}
	return out, multi, empty
}

// SelectionResult は語彙・撮影方向による絞り込みの結果
type SelectionResult struct {
	Table          metadata.Table
	DroppedByLabel int
	DroppedByView  int
}

// SelectClasses は語彙に含まれるラベルの行を残し、targetViewが空でなければ撮影方向でも絞り込む
func SelectClasses(t metadata.Table, vocabulary []string, targetView string) SelectionResult {
	accepted := make(map[string]bool, len(vocabulary))
	for _, label := range vocabulary {
		accepted[label] = true
	}

	res := SelectionResult{Table: make(metadata.Table, 0, len(t))}
	for _, r := range t {
		if !accepted[r.FindingLabels] {
			res.DroppedByLabel++
			continue
		}
		if targetView != "" && r.ViewPosition != targetView {
			res.DroppedByView++
			continue
		}
		res.Table = append(res.Table, r)
	}
	return res
}
