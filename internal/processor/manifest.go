package processor

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cxr-dataset-builder/internal/metadata"
)

// 出力ファイル名
const (
	ManifestFileName = "balanced_dataset.csv"
	RunInfoFileName  = "run.yaml"
	ImagesDirName    = "images"
)

// ManifestHeader はマニフェストCSVのヘッダ
var ManifestHeader = []string{"Image Path", "Caption"}

// ManifestEntry はマニフェストの1行
type ManifestEntry struct {
	ImagePath string
	Caption   string
}

// Manifest はTableから (画像パス, キャプション) の列だけを取り出す
func Manifest(t metadata.Table) []ManifestEntry {
	entries := make([]ManifestEntry, len(t))
	for i, r := range t {
		entries[i] = ManifestEntry{ImagePath: r.ImagePath, Caption: r.Caption}
	}
	return entries
}

// WriteManifestCSV はマニフェストをCSVとして書き出す
func WriteManifestCSV(w io.Writer, entries []ManifestEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ManifestHeader); err != nil {
		return fmt.Errorf("ヘッダの書き込みに失敗: %w", err)
	}
	for _, e := range entries {
		if err := writer.Write([]string{e.ImagePath, e.Caption}); err != nil {
			return fmt.Errorf("行の書き込みに失敗: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteManifest はマニフェストCSVファイルを作成
func WriteManifest(path string, entries []ManifestEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("マニフェストの作成に失敗: %w", err)
	}
	if err := WriteManifestCSV(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RunInfo は1回のデータセット作成の記録
type RunInfo struct {
	RunID              string        `yaml:"run_id"`
	CreatedAt          time.Time     `yaml:"created_at"`
	Metadata           string        `yaml:"metadata"`
	Vocabulary         []string      `yaml:"vocabulary"`
	TargetView         string        `yaml:"target_view"`
	Genders            []string      `yaml:"genders"`
	Seed               uint64        `yaml:"random_seed"`
	CaptionTemplate    string        `yaml:"caption_template"`
	Stages             []StageCount  `yaml:"stages"`
	Resolve            ResolveReport `yaml:"resolve"`
	Balance            BalanceReport `yaml:"balance"`
	DuplicateFilenames int           `yaml:"duplicate_filenames"`
	CopiedImages       int           `yaml:"copied_images"`
}

// NewRunID は実行ごとの識別子を返す
func NewRunID() string {
	return uuid.NewString()
}

// NewRunInfo は設定と結果から記録を作成
func NewRunInfo(runID, metadataPath string, opts Options, result *Result) *RunInfo {
	info := &RunInfo{
		RunID:           runID,
		CreatedAt:       time.Now().UTC(),
		Metadata:        metadataPath,
		Vocabulary:      opts.Vocabulary,
		TargetView:      opts.TargetView,
		Genders:         opts.Genders,
		Seed:            opts.Seed,
		CaptionTemplate: opts.CaptionTemplate,
	}
	if result != nil {
		info.Stages = result.Stages
		info.Resolve = result.Resolve
		info.Balance = result.Balance
	}
	return info
}

// WriteRunInfo は記録をYAMLファイルとして書き出す
func WriteRunInfo(path string, info *RunInfo) error {
	out, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("実行記録のYAML化に失敗: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("実行記録の書き込みに失敗: %w", err)
	}
	return nil
}
