package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStageAndDrops(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordStage("single_label", 120)
	m.RecordStage("single_label", 100)
	m.RecordDropped(ReasonMultiLabel, 20)
	m.RecordDropped(ReasonMultiLabel, 5)
	m.RecordDropped(ReasonView, 0)

	assert.Equal(t, float64(100), testutil.ToFloat64(m.stageRows.WithLabelValues("single_label")))
	assert.Equal(t, float64(25), testutil.ToFloat64(m.droppedRows.WithLabelValues(ReasonMultiLabel)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.droppedRows), "zero drops are not recorded")
}

func TestGroupAndCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.RecordGroup("Mass", "M", 10)
	m.RecordGroup("Mass", "F", 4)
	m.SetMinGroupSize(4)
	m.AddDuplicateFilenames(2)
	m.AddCopiedImages(16)

	assert.Equal(t, float64(4), testutil.ToFloat64(m.groupRows.WithLabelValues("Mass", "F")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.minGroupSize))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.duplicateFilenames))
	assert.Equal(t, float64(16), testutil.ToFloat64(m.copiedImages))
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStage("loaded", 1)
		m.RecordDropped(ReasonVocabulary, 1)
		m.RecordGroup("Mass", "M", 1)
		m.SetMinGroupSize(1)
		m.AddDuplicateFilenames(1)
		m.AddCopiedImages(1)
	})
}

func TestWriteTextfile(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)
	m.RecordStage("balanced", 40)

	path := filepath.Join(t.TempDir(), "cxr_dataset.prom")
	require.NoError(t, WriteTextfile(path, registry))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `cxr_dataset_stage_rows{stage="balanced"} 40`)
}
