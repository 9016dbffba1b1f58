package processor

import (
	"cmp"
	"slices"

	"cxr-dataset-builder/internal/metadata"
)

// DeduplicatePatients は患者ごとに1行だけを残す
//
// Follow-up # の昇順 (同値はImage Index順) に並べ、各患者で最初に現れた行を採用する。
// 結果はこの並び順で返す。
func DeduplicatePatients(t metadata.Table) metadata.Table {
	sorted := t.Clone()
	slices.SortStableFunc(sorted, func(a, b metadata.Record) int {
		if c := cmp.Compare(a.FollowUpNumber, b.FollowUpNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.ImageIndex, b.ImageIndex)
	})

	seen := make(map[string]bool, len(sorted))
	out := make(metadata.Table, 0, len(sorted))
	for _, r := range sorted {
		if seen[r.PatientID] {
			continue
		}
		seen[r.PatientID] = true
		out = append(out, r)
	}
	return out
}
