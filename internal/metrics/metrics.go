// Package metrics はデータセット作成のPrometheusメトリクスを提供する
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// dropped_rows_total の reason ラベル
const (
	ReasonMultiLabel       = "multi_label"
	ReasonEmptyLabel       = "empty_label"
	ReasonVocabulary       = "vocabulary"
	ReasonView             = "view"
	ReasonDuplicatePatient = "duplicate_patient"
	ReasonMissingImage     = "missing_image"
	ReasonUnbalancedGender = "unbalanced_gender"
	ReasonBalanceSurplus   = "balance_surplus"
)

// Metrics はパイプラインのメトリクス (nilレシーバでも呼び出し可能)
type Metrics struct {
	stageRows          *prometheus.GaugeVec
	droppedRows        *prometheus.CounterVec
	minGroupSize       prometheus.Gauge
	groupRows          *prometheus.GaugeVec
	duplicateFilenames prometheus.Counter
	copiedImages       prometheus.Counter
}

// New はメトリクスを作成してregに登録
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cxr_dataset",
			Name:      "stage_rows",
			Help:      "Rows remaining after each pipeline stage",
		}, []string{"stage"}),
		droppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxr_dataset",
			Name:      "dropped_rows_total",
			Help:      "Rows dropped by the pipeline, by reason",
		}, []string{"reason"}),
		minGroupSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cxr_dataset",
			Name:      "min_group_size",
			Help:      "Per (label, gender) sample count after balancing",
		}),
		groupRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cxr_dataset",
			Name:      "group_rows",
			Help:      "Resolved rows per (label, gender) group before balancing",
		}, []string{"label", "gender"}),
		duplicateFilenames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cxr_dataset",
			Name:      "duplicate_filenames_total",
			Help:      "Filenames found in more than one image directory",
		}),
		copiedImages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cxr_dataset",
			Name:      "copied_images_total",
			Help:      "Images copied into the output directory",
		}),
	}

	collectors := []prometheus.Collector{
		m.stageRows,
		m.droppedRows,
		m.minGroupSize,
		m.groupRows,
		m.duplicateFilenames,
		m.copiedImages,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("メトリクスの登録に失敗: %w", err)
		}
	}

	return m, nil
}

// RecordStage は処理段ごとの残り行数を記録
func (m *Metrics) RecordStage(stage string, rows int) {
	if m == nil {
		return
	}
	m.stageRows.WithLabelValues(stage).Set(float64(rows))
}

// RecordDropped は除外行数を理由別に加算
func (m *Metrics) RecordDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedRows.WithLabelValues(reason).Add(float64(n))
}

// RecordGroup は均等化前のグループ行数を記録
func (m *Metrics) RecordGroup(label, gender string, rows int) {
	if m == nil {
		return
	}
	m.groupRows.WithLabelValues(label, gender).Set(float64(rows))
}

// SetMinGroupSize は均等化後のグループ行数を記録
func (m *Metrics) SetMinGroupSize(n int) {
	if m == nil {
		return
	}
	m.minGroupSize.Set(float64(n))
}

// AddDuplicateFilenames は画像ディレクトリ間の同名ファイル数を加算
func (m *Metrics) AddDuplicateFilenames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicateFilenames.Add(float64(n))
}

// AddCopiedImages はコピーした画像数を加算
func (m *Metrics) AddCopiedImages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.copiedImages.Add(float64(n))
}

// WriteTextfile はgのメトリクスをテキスト形式でファイルに書き出す
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("メトリクスファイルの書き込みに失敗: %w", err)
	}
	return nil
}
