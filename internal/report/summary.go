package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"cxr-dataset-builder/internal/metadata"
)

// 分布CSVのファイル名
const (
	GenderDistributionFile = "gender_distribution.csv"
	ViewDistributionFile   = "view_distribution.csv"
	BalanceSummaryFile     = "gender_balance_summary.csv"
)

// emptyValue は値が空のときの表示
const emptyValue = "-"

// Distribution はラベル×値のクロス集計
type Distribution struct {
	RowName string
	Rows    []string // ラベル (名前順)
	Columns []string // 値 (名前順)
	counts  map[[2]string]int
}

// Crosstab はラベルと column(r) の組み合わせごとの行数を数える
func Crosstab(t metadata.Table, rowName string, column func(metadata.Record) string) Distribution {
	d := Distribution{RowName: rowName, counts: make(map[[2]string]int)}
	rows := make(map[string]bool)
	cols := make(map[string]bool)
	for _, r := range t {
		col := column(r)
		d.counts[[2]string{r.FindingLabels, col}]++
		rows[r.FindingLabels] = true
		cols[col] = true
	}
	d.Rows = sortedKeys(rows)
	d.Columns = sortedKeys(cols)
	return d
}

// Count はラベルと値の組み合わせの行数を返す
func (d Distribution) Count(row, column string) int {
	return d.counts[[2]string{row, column}]
}

// Records は表をヘッダ付きの文字列行列として返す
func (d Distribution) Records() [][]string {
	header := append([]string{d.RowName}, displayAll(d.Columns)...)
	out := [][]string{header}
	for _, row := range d.Rows {
		line := []string{row}
		for _, col := range d.Columns {
			line = append(line, strconv.Itoa(d.Count(row, col)))
		}
		out = append(out, line)
	}
	return out
}

// ClassUsable は性別を揃えたときにクラスごとに使える件数
type ClassUsable struct {
	Label  string
	Usable int
}

// Summary はラベルごとの性別・撮影方向の分布
type Summary struct {
	Total       int
	Genders     []string
	Views       []string
	Gender      Distribution
	View        Distribution
	Usable      []ClassUsable
	MinBalanced int
}

// Summarize は絞り込み済みのTableから分布を集計する
//
// Usable は指定した性別の中で最も少ない件数。
func Summarize(t metadata.Table, genders []string) *Summary {
	s := &Summary{
		Total:   len(t),
		Genders: genders,
		Gender:  Crosstab(t, metadata.ColumnFindingLabels, func(r metadata.Record) string { return r.PatientGender }),
		View:    Crosstab(t, metadata.ColumnFindingLabels, func(r metadata.Record) string { return r.ViewPosition }),
	}
	s.Views = s.View.Columns

	for i, label := range s.Gender.Rows {
		usable := -1
		for _, g := range genders {
			if n := s.Gender.Count(label, g); usable < 0 || n < usable {
				usable = n
			}
		}
		if usable < 0 {
			usable = 0
		}
		s.Usable = append(s.Usable, ClassUsable{Label: label, Usable: usable})
		if i == 0 || usable < s.MinBalanced {
			s.MinBalanced = usable
		}
	}
	return s
}

// BalanceRecords は gender_balance_summary.csv の内容を返す
func (s *Summary) BalanceRecords() [][]string {
	records := s.Gender.Records()
	records[0] = append(records[0], "usable_per_class")
	for i, u := range s.Usable {
		records[i+1] = append(records[i+1], strconv.Itoa(u.Usable))
	}
	return records
}

// WriteText は集計結果を表形式で書き出す
func (s *Summary) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Total samples after filtering: %d\n", s.Total)
	fmt.Fprintf(w, "Unique view positions: %v\n", displayAll(s.Views))

	fmt.Fprintln(w, "\n--- Gender distribution per class ---")
	if err := writeTable(w, s.Gender.Records()); err != nil {
		return err
	}
	fmt.Fprintln(w, "\n--- View Position distribution per class ---")
	if err := writeTable(w, s.View.Records()); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nBalanced samples possible per class (equal across genders):")
	usable := [][]string{{metadata.ColumnFindingLabels, "usable_per_class"}}
	for _, u := range s.Usable {
		usable = append(usable, []string{u.Label, strconv.Itoa(u.Usable)})
	}
	if err := writeTable(w, usable); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nYou can safely sample %d images per class (%d per gender x %d genders).\n",
		s.MinBalanced*len(s.Genders), s.MinBalanced, len(s.Genders))
	return err
}

// WriteCSVs は分布CSVを dir に書き出し、作成したパスを返す
func (s *Summary) WriteCSVs(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ディレクトリの作成に失敗: %w", err)
	}

	outputs := []struct {
		name    string
		records [][]string
	}{
		{GenderDistributionFile, s.Gender.Records()},
		{ViewDistributionFile, s.View.Records()},
		{BalanceSummaryFile, s.BalanceRecords()},
	}

	var paths []string
	for _, o := range outputs {
		path := filepath.Join(dir, o.name)
		if err := writeCSVFile(path, o.records); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSVFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s の作成に失敗: %w", path, err)
	}
	writer := csv.NewWriter(f)
	if err := writer.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("%s の書き込みに失敗: %w", path, err)
	}
	return f.Close()
}

func writeTable(w io.Writer, records [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, line := range records {
		for i, cell := range line {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw, "\t")
	}
	return tw.Flush()
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func display(v string) string {
	if v == "" {
		return emptyValue
	}
	return v
}

func displayAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = display(v)
	}
	return out
}
