package report

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"cxr-dataset-builder/internal/config"
	"cxr-dataset-builder/internal/logging"
	"cxr-dataset-builder/internal/metadata"
	"cxr-dataset-builder/internal/processor"
	"cxr-dataset-builder/internal/utils"
)

// GenderCount は性別ごとの行数
type GenderCount struct {
	Gender string
	Count  int
}

// Side は1つの絞り込み条件で残った対象ラベルの行
type Side struct {
	Selection config.Selection
	Table     metadata.Table
	Genders   []GenderCount
	Only      []string       // もう一方に無い患者ID
	Examples  metadata.Table // Only の先頭から最大 Examples 件
}

// ViewGenderCount は重複除去前の撮影方向×性別の行数
type ViewGenderCount struct {
	View   string
	Gender string
	Count  int
}

// Comparison は2つの絞り込み条件の差分
type Comparison struct {
	Label       string
	A, B        Side
	InBoth      []string
	BeforeDedup []ViewGenderCount
	EmptyView   int
}

// Comparator は2つの条件でパイプラインを実行して差分を取る
type Comparator struct {
	cfg     config.CompareConfig
	genders []string
	index   *utils.ImageIndex
	logger  *slog.Logger
}

// NewComparator は新しいComparatorを作成
//
// index がnilなら画像パスの解決は行わない。
func NewComparator(cfg config.CompareConfig, genders []string, index *utils.ImageIndex, logger *slog.Logger) *Comparator {
	return &Comparator{
		cfg:     cfg,
		genders: genders,
		index:   index,
		logger:  logging.Module(logger, "compare"),
	}
}

// Compare は両方の条件で絞り込み、対象ラベルの患者IDを比較する
func (c *Comparator) Compare(t metadata.Table) *Comparison {
	cmp := &Comparison{Label: c.cfg.Label}

	cmp.A = c.run(t, c.cfg.A)
	cmp.B = c.run(t, c.cfg.B)

	idsA := cmp.A.Table.PatientIDs()
	idsB := cmp.B.Table.PatientIDs()
	cmp.A.Only = difference(idsA, idsB)
	cmp.B.Only = difference(idsB, idsA)
	for id := range idsA {
		if _, ok := idsB[id]; ok {
			cmp.InBoth = append(cmp.InBoth, id)
		}
	}
	sortPatientIDs(cmp.InBoth)

	cmp.A.Examples = examples(cmp.A.Table, cmp.A.Only, c.cfg.Examples)
	cmp.B.Examples = examples(cmp.B.Table, cmp.B.Only, c.cfg.Examples)

	cmp.BeforeDedup, cmp.EmptyView = c.beforeDedup(t)

	c.logger.Info("比較が完了しました",
		"label", cmp.Label,
		"rows_a", len(cmp.A.Table),
		"rows_b", len(cmp.B.Table),
		"only_a", len(cmp.A.Only),
		"only_b", len(cmp.B.Only),
		"both", len(cmp.InBoth))
	return cmp
}

func (c *Comparator) run(t metadata.Table, sel config.Selection) Side {
	p := processor.New(processor.OptionsFromSelection(sel), c.logger.With("selection", sel.Name), nil)
	out := p.Filter(t)
	if c.index != nil {
		out, _ = p.Resolve(out, c.index)
	}
	out = out.Filter(func(r metadata.Record) bool { return r.FindingLabels == c.cfg.Label })
	return Side{Selection: sel, Table: out, Genders: c.countGenders(out)}
}

// countGenders は設定した性別の順に数え、それ以外の性別は名前順に続ける
func (c *Comparator) countGenders(t metadata.Table) []GenderCount {
	counts := make(map[string]int)
	for _, r := range t {
		counts[r.PatientGender]++
	}
	var out []GenderCount
	known := make(map[string]bool)
	for _, g := range c.genders {
		out = append(out, GenderCount{Gender: g, Count: counts[g]})
		known[g] = true
	}
	var others []string
	for g := range counts {
		if !known[g] {
			others = append(others, g)
		}
	}
	sort.Strings(others)
	for _, g := range others {
		out = append(out, GenderCount{Gender: g, Count: counts[g]})
	}
	return out
}

// beforeDedup は単一ラベルの対象行を撮影方向×性別で数える
func (c *Comparator) beforeDedup(t metadata.Table) ([]ViewGenderCount, int) {
	single, _, _ := processor.FilterSingleLabel(processor.Normalize(t))

	counts := make(map[[2]string]int)
	emptyView := 0
	for _, r := range single {
		if r.FindingLabels != c.cfg.Label {
			continue
		}
		counts[[2]string{r.ViewPosition, r.PatientGender}]++
		if r.ViewPosition == "" {
			emptyView++
		}
	}

	out := make([]ViewGenderCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, ViewGenderCount{View: k[0], Gender: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].View != out[j].View {
			return out[i].View < out[j].View
		}
		return out[i].Gender < out[j].Gender
	})
	return out, emptyView
}

func difference(a, b map[string]struct{}) []string {
	var out []string
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sortPatientIDs(out)
	return out
}

// sortPatientIDs は数値のIDを数値順、それ以外を文字列順に並べる
func sortPatientIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}

func examples(t metadata.Table, ids []string, limit int) metadata.Table {
	if limit <= 0 || len(ids) == 0 {
		return nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	byID := make(map[string]metadata.Record, len(t))
	for _, r := range t {
		byID[r.PatientID] = r
	}
	out := make(metadata.Table, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// WriteText は比較結果を書き出す
func (cmp *Comparison) WriteText(w io.Writer) error {
	for _, side := range []struct {
		name string
		s    Side
	}{{"A", cmp.A}, {"B", cmp.B}} {
		fmt.Fprintf(w, "%s (%s) %s gender counts:\n", side.name, sideName(side.s), cmp.Label)
		rows := [][]string{{metadata.ColumnPatientGender, "count"}}
		for _, g := range side.s.Genders {
			rows = append(rows, []string{display(g.Gender), strconv.Itoa(g.Count)})
		}
		if err := writeTable(w, rows); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Patients only in A: %d\n", len(cmp.A.Only))
	fmt.Fprintf(w, "Patients only in B: %d\n", len(cmp.B.Only))
	fmt.Fprintf(w, "Patients in both: %d\n", len(cmp.InBoth))

	for _, side := range []struct {
		name string
		s    Side
	}{{"A", cmp.A}, {"B", cmp.B}} {
		if len(side.s.Examples) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nExample rows only in %s:\n", side.name)
		rows := [][]string{{
			metadata.ColumnPatientID, metadata.ColumnImageIndex, metadata.ColumnViewPosition,
			metadata.ColumnPatientGender, metadata.ColumnFollowUpNumber,
		}}
		for _, r := range side.s.Examples {
			rows = append(rows, []string{
				r.PatientID, r.ImageIndex, display(r.ViewPosition),
				display(r.PatientGender), strconv.Itoa(r.FollowUpNumber),
			})
		}
		if err := writeTable(w, rows); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\n%s single-label rows before deduplication (view x gender):\n", cmp.Label)
	rows := [][]string{{metadata.ColumnViewPosition, metadata.ColumnPatientGender, "count"}}
	for _, vg := range cmp.BeforeDedup {
		rows = append(rows, []string{display(vg.View), display(vg.Gender), strconv.Itoa(vg.Count)})
	}
	if err := writeTable(w, rows); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nRows with empty view position: %d\n", cmp.EmptyView)
	return err
}

func sideName(s Side) string {
	name := s.Selection.Name
	if s.Selection.TargetView != "" {
		name += ", view=" + s.Selection.TargetView
	}
	return name
}
