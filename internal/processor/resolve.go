package processor

import (
	"cxr-dataset-builder/internal/metadata"
	"cxr-dataset-builder/internal/utils"
)

// MaxMissingExamples はレポートに残す未解決ファイル名の上限
const MaxMissingExamples = 5

// ResolveReport は画像パス解決の結果
type ResolveReport struct {
	Missing  int      `yaml:"missing"`
	Examples []string `yaml:"examples,omitempty"`
}

// ResolveImages はImage Indexを画像パスへ解決し、見つからない行を除外する
func ResolveImages(t metadata.Table, index *utils.ImageIndex) (metadata.Table, ResolveReport) {
	var report ResolveReport
	out := make(metadata.Table, 0, len(t))
	for _, r := range t {
		path, ok := index.Lookup(r.ImageIndex)
		if !ok {
			report.Missing++
			if len(report.Examples) < MaxMissingExamples {
				report.Examples = append(report.Examples, r.ImageIndex)
			}
			continue
		}
		r.ImagePath = path
		out = append(out, r)
	}
	return out, report
}
