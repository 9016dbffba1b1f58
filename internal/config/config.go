package config

import (
	"fmt"
	"runtime"
	"strings"
)

// FindingPlaceholder はキャプションテンプレート内の所見名プレースホルダ
const FindingPlaceholder = "{finding}"

// 参照パイプラインの既定値
var (
	DefaultVocabulary = []string{"Atelectasis", "Effusion", "Infiltration", "Mass", "Nodule"}

	// AllFindings は単一所見として扱う14クラス
	AllFindings = []string{
		"Atelectasis", "Cardiomegaly", "Effusion", "Infiltration", "Mass", "Nodule",
		"Pneumonia", "Pneumothorax", "Consolidation", "Edema", "Emphysema", "Fibrosis",
		"Pleural_Thickening", "Hernia",
	}
)

// Selection は所見語彙と撮影方向による絞り込み条件
type Selection struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Vocabulary []string `mapstructure:"vocabulary" yaml:"vocabulary"`
	TargetView string   `mapstructure:"target_view" yaml:"target_view"` // 空なら方向で絞り込まない
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// CompareConfig は比較診断の設定
type CompareConfig struct {
	Label    string    `mapstructure:"label" yaml:"label"`
	Examples int       `mapstructure:"examples" yaml:"examples"`
	A        Selection `mapstructure:"a" yaml:"a"`
	B        Selection `mapstructure:"b" yaml:"b"`
}

// Config は設定情報を保持
type Config struct {
	MetadataPath    string        `mapstructure:"metadata" yaml:"metadata"`               // メタデータCSV/XLSX
	ImageDirs       []string      `mapstructure:"image_dirs" yaml:"image_dirs"`           // 画像ディレクトリ
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`           // 出力先ディレクトリ
	Vocabulary      []string      `mapstructure:"vocabulary" yaml:"vocabulary"`           // 採用する所見ラベル
	TargetView      string        `mapstructure:"target_view" yaml:"target_view"`         // 撮影方向 (空なら全方向)
	Genders         []string      `mapstructure:"genders" yaml:"genders"`                 // 均等化する性別
	RandomSeed      uint64        `mapstructure:"random_seed" yaml:"random_seed"`         // サンプリング用シード
	CaptionTemplate string        `mapstructure:"caption_template" yaml:"caption_template"` // 空なら撮影方向から決定
	CopyImages      bool          `mapstructure:"copy_images" yaml:"copy_images"`         // 画像コピーの有無
	MaxCopyWorkers  int           `mapstructure:"copy_workers" yaml:"copy_workers"`       // コピーワーカー数
	TarOutput       bool          `mapstructure:"tar_output" yaml:"tar_output"`           // tar出力フラグ
	MetricsFile     string        `mapstructure:"metrics_file" yaml:"metrics_file"`       // Prometheusテキスト出力先
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
	Compare         CompareConfig `mapstructure:"compare" yaml:"compare"`
}

// NewDefaultConfig はデフォルト設定を返す
func NewDefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &Config{
		Vocabulary:     append([]string(nil), DefaultVocabulary...),
		TargetView:     "PA",
		Genders:        []string{"M", "F"},
		RandomSeed:     42,
		CopyImages:     true,
		MaxCopyWorkers: workers,
		Log:            LogConfig{Level: "info", Format: "text"},
		Compare: CompareConfig{
			Label:    "Effusion",
			Examples: 10,
			A:        Selection{Name: "A", Vocabulary: append([]string(nil), AllFindings...)},
			B:        Selection{Name: "B", Vocabulary: append([]string(nil), DefaultVocabulary...), TargetView: "PA"},
		},
	}
}

// Validate は設定の妥当性をチェック
func (c *Config) Validate() error {
	if c.MetadataPath == "" {
		return fmt.Errorf("メタデータファイルが指定されていません")
	}
	if err := validateSelection(c.GetSelection()); err != nil {
		return err
	}
	if err := validateUnique("性別", c.Genders); err != nil {
		return err
	}
	if c.MaxCopyWorkers < 1 {
		return fmt.Errorf("最大コピーワーカー数は1以上である必要があります")
	}
	if c.CaptionTemplate != "" && !strings.Contains(c.CaptionTemplate, FindingPlaceholder) {
		return fmt.Errorf("キャプションテンプレートに %s が含まれていません: %q", FindingPlaceholder, c.CaptionTemplate)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("不明なログレベル: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("不明なログ形式: %q", c.Log.Format)
	}
	return nil
}

// ValidateBuild はデータセット作成に必要な設定をチェック
func (c *Config) ValidateBuild() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return fmt.Errorf("出力先ディレクトリが指定されていません")
	}
	if len(c.ImageDirs) == 0 {
		return fmt.Errorf("画像ディレクトリが指定されていません")
	}
	return nil
}

// ValidateCompare は比較診断に必要な設定をチェック
func (c *Config) ValidateCompare() error {
	if c.MetadataPath == "" {
		return fmt.Errorf("メタデータファイルが指定されていません")
	}
	if c.Compare.Label == "" {
		return fmt.Errorf("比較対象のラベルが指定されていません")
	}
	if c.Compare.Examples < 0 {
		return fmt.Errorf("表示する例の数は0以上である必要があります")
	}
	for _, sel := range []Selection{c.Compare.A, c.Compare.B} {
		if err := validateSelection(sel); err != nil {
			return fmt.Errorf("比較設定 %s: %w", sel.Name, err)
		}
	}
	return nil
}

func validateSelection(sel Selection) error {
	if len(sel.Vocabulary) == 0 {
		return fmt.Errorf("所見ラベルが指定されていません")
	}
	return validateUnique("所見ラベル", sel.Vocabulary)
}

func validateUnique(kind string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("%sが指定されていません", kind)
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%sに空の値が含まれています", kind)
		}
		if seen[v] {
			return fmt.Errorf("%sが重複しています: %s", kind, v)
		}
		seen[v] = true
	}
	return nil
}

// GetSelection はデータセット作成用の絞り込み条件を返す
func (c *Config) GetSelection() Selection {
	return Selection{Name: "build", Vocabulary: c.Vocabulary, TargetView: c.TargetView}
}

// GetCaptionTemplate はキャプションテンプレートを返す
func (c *Config) GetCaptionTemplate() string {
	if c.CaptionTemplate != "" {
		return c.CaptionTemplate
	}
	return CaptionTemplateForView(c.TargetView)
}

// GetMaxCopyWorkers は最大コピーワーカー数を返す
func (c *Config) GetMaxCopyWorkers() int {
	return c.MaxCopyWorkers
}

// CaptionTemplateForView は撮影方向に応じたキャプションテンプレートを返す
func CaptionTemplateForView(view string) string {
	switch strings.ToUpper(strings.TrimSpace(view)) {
	case "":
		return "Chest X-ray showing " + FindingPlaceholder + "."
	case "PA":
		return "Posteroanterior view chest X-ray showing " + FindingPlaceholder + "."
	case "AP":
		return "Anteroposterior view chest X-ray showing " + FindingPlaceholder + "."
	default:
		return strings.TrimSpace(view) + " view chest X-ray showing " + FindingPlaceholder + "."
	}
}
