package processor

import (
	"fmt"
	"log/slog"

	"cxr-dataset-builder/internal/config"
	"cxr-dataset-builder/internal/logging"
	"cxr-dataset-builder/internal/metadata"
	"cxr-dataset-builder/internal/metrics"
	"cxr-dataset-builder/internal/utils"
)

// 処理段の名前
const (
	StageLoaded       = "loaded"
	StageSingleLabel  = "single_label"
	StageSelected     = "selected"
	StageDeduplicated = "deduplicated"
	StageResolved     = "resolved"
	StageBalanced     = "balanced"
)

// Options はパイプラインの設定
type Options struct {
	Vocabulary      []string
	TargetView      string
	Genders         []string
	Seed            uint64
	CaptionTemplate string
}

// OptionsFromConfig は設定からデータセット作成用のOptionsを作成
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Vocabulary:      cfg.Vocabulary,
		TargetView:      cfg.TargetView,
		Genders:         cfg.Genders,
		Seed:            cfg.RandomSeed,
		CaptionTemplate: cfg.GetCaptionTemplate(),
	}
}

// OptionsFromSelection は絞り込み条件だけを持つOptionsを作成
func OptionsFromSelection(sel config.Selection) Options {
	return Options{Vocabulary: sel.Vocabulary, TargetView: sel.TargetView}
}

// StageCount は処理段ごとの残り行数
type StageCount struct {
	Stage string `yaml:"stage"`
	Rows  int    `yaml:"rows"`
}

// Result はデータセット作成の結果
type Result struct {
	Dataset metadata.Table // キャプション付きの均等化済み行
	Stages  []StageCount
	Resolve ResolveReport
	Balance BalanceReport
}

// Pipeline は絞り込みから均等化までを順に実行する
type Pipeline struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	stages  []StageCount
}

// New は新しいPipelineを作成 (logger, m はnil可)
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		opts:    opts,
		logger:  logging.Module(logger, "processor"),
		metrics: m,
	}
}

func (p *Pipeline) record(stage string, rows int) {
	p.stages = append(p.stages, StageCount{Stage: stage, Rows: rows})
	p.metrics.RecordStage(stage, rows)
}

// Stages はこれまでに実行した処理段の行数を返す
func (p *Pipeline) Stages() []StageCount {
	return append([]StageCount(nil), p.stages...)
}

// Filter は正規化・単一ラベル・語彙/方向・患者重複除去を実行
func (p *Pipeline) Filter(t metadata.Table) metadata.Table {
	p.record(StageLoaded, len(t))
	p.logger.Info("メタデータを受け取りました", "rows", len(t))

	normalized := Normalize(t)

	single, multi, empty := FilterSingleLabel(normalized)
	p.record(StageSingleLabel, len(single))
	p.metrics.RecordDropped(metrics.ReasonMultiLabel, multi)
	p.metrics.RecordDropped(metrics.ReasonEmptyLabel, empty)
	p.logger.Info("単一ラベルの行に絞り込みました", "rows", len(single), "multi_label", multi, "empty_label", empty)

	sel := SelectClasses(single, p.opts.Vocabulary, p.opts.TargetView)
	p.record(StageSelected, len(sel.Table))
	p.metrics.RecordDropped(metrics.ReasonVocabulary, sel.DroppedByLabel)
	p.metrics.RecordDropped(metrics.ReasonView, sel.DroppedByView)
	p.logger.Info("対象クラスに絞り込みました",
		"rows", len(sel.Table),
		"vocabulary", p.opts.Vocabulary,
		"target_view", p.opts.TargetView,
		"dropped_label", sel.DroppedByLabel,
		"dropped_view", sel.DroppedByView)

	deduped := DeduplicatePatients(sel.Table)
	p.record(StageDeduplicated, len(deduped))
	p.metrics.RecordDropped(metrics.ReasonDuplicatePatient, len(sel.Table)-len(deduped))
	p.logger.Info("患者ごとに1枚に絞り込みました", "rows", len(deduped))

	return deduped
}

// Resolve は画像パスを解決し、見つからない行を除外
func (p *Pipeline) Resolve(t metadata.Table, index *utils.ImageIndex) (metadata.Table, ResolveReport) {
	resolved, report := ResolveImages(t, index)
	p.record(StageResolved, len(resolved))
	p.metrics.RecordDropped(metrics.ReasonMissingImage, report.Missing)
	p.logger.Info("画像パスを解決しました", "rows", len(resolved), "missing", report.Missing)
	if report.Missing > 0 {
		p.logger.Warn("画像が見つからない行を除外しました", "missing", report.Missing, "examples", report.Examples)
	}
	return resolved, report
}

// Build はデータセット作成の全段を実行
func (p *Pipeline) Build(t metadata.Table, index *utils.ImageIndex) (*Result, error) {
	deduped := p.Filter(t)
	resolved, resolveReport := p.Resolve(deduped, index)

	result := &Result{Resolve: resolveReport}

	balanced, balanceReport, err := Balance(resolved, p.opts.Genders, p.opts.Seed)
	result.Balance = balanceReport
	for _, g := range balanceReport.Groups {
		p.metrics.RecordGroup(g.Label, g.Gender, g.Count)
		p.logger.Debug("グループ行数", "label", g.Label, "gender", g.Gender, "rows", g.Count)
	}
	p.metrics.RecordDropped(metrics.ReasonUnbalancedGender, balanceReport.Excluded)
	if err != nil {
		result.Stages = p.Stages()
		return result, fmt.Errorf("均等化に失敗: %w", err)
	}
	p.record(StageBalanced, len(balanced))
	p.metrics.RecordDropped(metrics.ReasonBalanceSurplus, balanceReport.Surplus)
	p.metrics.SetMinGroupSize(balanceReport.MinCount)
	p.logger.Info("データセットを均等化しました",
		"rows", len(balanced),
		"min_count", balanceReport.MinCount,
		"groups", len(balanceReport.Groups),
		"excluded_gender", balanceReport.Excluded)

	result.Dataset = AddCaptions(balanced, p.opts.CaptionTemplate)
	result.Stages = p.Stages()
	if len(result.Dataset) > 0 {
		p.logger.Debug("キャプション例", "caption", result.Dataset[0].Caption)
	}
	return result, nil
}
