package processor

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cxr-dataset-builder/internal/config"
	"cxr-dataset-builder/internal/metadata"
	"cxr-dataset-builder/internal/metrics"
	"cxr-dataset-builder/internal/utils"
)

func testOptions() Options {
	cfg := config.NewDefaultConfig()
	cfg.Vocabulary = []string{"Mass", "Nodule"}
	return OptionsFromConfig(cfg)
}

// buildTable は画像 (存在するもの) と行を用意する
func buildTable(t *testing.T, imageDir string) metadata.Table {
	t.Helper()
	table := metadata.Table{
		// Mass: M 3人, F 2人
		rec("1", "1_000.png", "Mass", "PA", "M", 0),
		rec("1", "1_001.png", "Mass", "PA", "M", 1),
		rec("2", "2_000.png", " Mass", "PA ", "M", 0),
		rec("3", "3_000.png", "Mass", "PA", "M", 0),
		rec("4", "4_000.png", "Mass", "PA", "F", 0),
		rec("5", "5_000.png", "Mass", "PA", "F", 0),
		// Nodule: M 2人, F 3人 (1人は画像なし)
		rec("6", "6_000.png", "Nodule", "PA", "M", 0),
		rec("7", "7_000.png", "Nodule", "PA", "M", 0),
		rec("8", "8_000.png", "Nodule", "PA", "F", 0),
		rec("9", "9_000.png", "Nodule", "PA", "F", 0),
		rec("10", "10_000.png", "Nodule", "PA", "F", 0),
		rec("11", "11_000.png", "Nodule", "PA", "F", 0),
		// 除外される行
		rec("12", "12_000.png", "Mass|Nodule", "PA", "M", 0),
		rec("13", "13_000.png", "Mass", "AP", "F", 0),
		rec("14", "14_000.png", "Hernia", "PA", "F", 0),
	}
	for _, r := range table {
		if r.ImageIndex == "11_000.png" {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(imageDir, r.ImageIndex), []byte(r.ImageIndex), 0o644))
	}
	return table
}

// metricValue は registry から name のラベル label=value の値を取り出す
func metricValue(t *testing.T, registry *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := label == ""
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					matched = true
				}
			}
			if !matched {
				continue
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestPipelineBuild(t *testing.T) {
	imageDir := t.TempDir()
	table := buildTable(t, imageDir)
	index, err := utils.BuildImageIndex([]string{imageDir})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)

	p := New(testOptions(), nil, m)
	result, err := p.Build(table, index)
	require.NoError(t, err)

	// Mass F=2, Nodule M=2 が最小
	assert.Equal(t, 2, result.Balance.MinCount)
	assert.Len(t, result.Dataset, 8)
	assert.Equal(t, 1, result.Resolve.Missing)
	assert.Equal(t, []string{"11_000.png"}, result.Resolve.Examples)

	assert.Equal(t, []StageCount{
		{Stage: StageLoaded, Rows: 15},
		{Stage: StageSingleLabel, Rows: 14},
		{Stage: StageSelected, Rows: 12},
		{Stage: StageDeduplicated, Rows: 11},
		{Stage: StageResolved, Rows: 10},
		{Stage: StageBalanced, Rows: 8},
	}, result.Stages)

	for _, r := range result.Dataset {
		assert.NotEmpty(t, r.ImagePath)
		assert.Equal(t, "PA", r.ViewPosition)
		assert.NotEqual(t, "1_001.png", r.ImageIndex, "later follow-up must not survive")
		assert.Equal(t, CaptionFor(testOptions().CaptionTemplate, r.FindingLabels), r.Caption)
	}

	assert.Equal(t, float64(8), metricValue(t, registry, "cxr_dataset_stage_rows", "stage", StageBalanced))
	assert.Equal(t, float64(1), metricValue(t, registry, "cxr_dataset_dropped_rows_total", "reason", metrics.ReasonMissingImage))
	assert.Equal(t, float64(2), metricValue(t, registry, "cxr_dataset_min_group_size", "", ""))

	// 同じ入力なら同じ結果
	again, err := New(testOptions(), nil, nil).Build(table, index)
	require.NoError(t, err)
	assert.Equal(t, result.Dataset, again.Dataset)
}

func TestPipelineBuildInsufficient(t *testing.T) {
	index := utils.NewImageIndex(map[string]string{"a.png": "/images/a.png"})
	table := metadata.Table{rec("1", "a.png", "Mass", "PA", "M", 0)}

	result, err := New(testOptions(), nil, nil).Build(table, index)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))
	require.NotNil(t, result)
	assert.Empty(t, result.Dataset)
	assert.Len(t, result.Stages, 5, "stages up to resolution are still reported")
}

func TestPipelineFilterOnly(t *testing.T) {
	table := metadata.Table{
		rec("1", "a.png", "Effusion", "PA", "M", 0),
		rec("2", "b.png", "Effusion", "AP", "F", 0),
	}
	out := New(OptionsFromSelection(config.Selection{Vocabulary: []string{"Effusion"}}), nil, nil).Filter(table)
	assert.Len(t, out, 2)
}

func TestWriteManifest(t *testing.T) {
	entries := Manifest(metadata.Table{
		{ImagePath: "/out/a.png", Caption: "Posteroanterior view chest X-ray showing mass."},
		{ImagePath: "/out/b, c.png", Caption: "Posteroanterior view chest X-ray showing nodule."},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteManifestCSV(&buf, entries))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Image Path", "Caption"},
		{"/out/a.png", "Posteroanterior view chest X-ray showing mass."},
		{"/out/b, c.png", "Posteroanterior view chest X-ray showing nodule."},
	}, rows)

	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, WriteManifest(path, entries))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Image Path,Caption\n")
}

func TestWriteRunInfo(t *testing.T) {
	opts := testOptions()
	result := &Result{
		Stages:  []StageCount{{Stage: StageLoaded, Rows: 3}},
		Resolve: ResolveReport{Missing: 1, Examples: []string{"x.png"}},
		Balance: BalanceReport{MinCount: 1},
	}
	info := NewRunInfo(NewRunID(), "Data_Entry_2017.csv", opts, result)
	info.CopiedImages = 4

	path := filepath.Join(t.TempDir(), RunInfoFileName)
	require.NoError(t, WriteRunInfo(path, info))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(content, &decoded))
	assert.Equal(t, info.RunID, decoded["run_id"])
	assert.Equal(t, "PA", decoded["target_view"])
	assert.Equal(t, 42, decoded["random_seed"])
	assert.Equal(t, 4, decoded["copied_images"])
	assert.Len(t, info.RunID, 36)
}

func TestCopyImagesParallel(t *testing.T) {
	srcDir := t.TempDir()
	var files []string
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		path := filepath.Join(srcDir, name)
		require.NoError(t, os.WriteFile(path, []byte("data-"+name), 0o644))
		files = append(files, path)
	}

	destDir := filepath.Join(t.TempDir(), ImagesDirName)
	copied, err := CopyImagesParallel(context.Background(), destDir, files, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, copied)

	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		content, err := os.ReadFile(filepath.Join(destDir, name))
		require.NoError(t, err)
		assert.Equal(t, "data-"+name, string(content))
	}
}

func TestCopyImagesParallelMissingSource(t *testing.T) {
	destDir := t.TempDir()
	_, err := CopyImagesParallel(context.Background(), destDir, []string{filepath.Join(destDir, "none.png")}, 4)
	assert.Error(t, err)
}

func TestCopyImagesParallelCancelled(t *testing.T) {
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyImagesParallel(ctx, t.TempDir(), []string{path}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateTarArchive(t *testing.T) {
	root := t.TempDir()
	outDir := filepath.Join(root, "FINALDATA")
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, ImagesDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, ManifestFileName), []byte("Image Path,Caption\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, ImagesDirName, "a.png"), []byte("png"), 0o644))

	tarPath := TarPathFor(outDir)
	assert.Equal(t, filepath.Join(root, "FINALDATA.tar"), tarPath)
	require.NoError(t, CreateTarArchive(outDir, tarPath))

	f, err := os.Open(tarPath)
	require.NoError(t, err)
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{ManifestFileName, "images/", "images/a.png"}, names)
}
