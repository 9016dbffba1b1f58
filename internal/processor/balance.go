package processor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"cxr-dataset-builder/internal/metadata"
)

// ErrInsufficientSamples は均等化に必要なサンプルが無いことを示す
var ErrInsufficientSamples = errors.New("サンプル数が不足しています")

// InsufficientSamplesError は (ラベル, 性別) グループにサンプルが無いことを示す
type InsufficientSamplesError struct {
	Label  string
	Gender string
	Count  int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("%v: ラベル %q 性別 %q のサンプル数が %d 件です", ErrInsufficientSamples, e.Label, e.Gender, e.Count)
}

// Is は errors.Is(err, ErrInsufficientSamples) を満たす
func (e *InsufficientSamplesError) Is(target error) bool {
	return target == ErrInsufficientSamples
}

// GroupKey は均等化のグループキー
type GroupKey struct {
	Label  string
	Gender string
}

// GroupCount はグループごとの行数
type GroupCount struct {
	Label  string `yaml:"label"`
	Gender string `yaml:"gender"`
	Count  int    `yaml:"count"`
}

// BalanceReport は均等化の結果
type BalanceReport struct {
	MinCount int          `yaml:"min_count"`
	Groups   []GroupCount `yaml:"groups"`   // 均等化前の行数 (ラベル名順、性別は指定順)
	Excluded int          `yaml:"excluded"` // 対象外の性別で除外した行数
	Surplus  int          `yaml:"surplus"`  // サンプリングで落とした行数
}

// Grouped はラベル×性別でまとめた行
type Grouped struct {
	Labels   []string // 出現したラベル (名前順)
	Genders  []string
	Groups   map[GroupKey]metadata.Table
	Excluded int
}

// GroupByLabelGender は行を (ラベル, 性別) ごとにまとめる
//
// genders に含まれない性別の行は Excluded に数えて除外する。各グループ内の行順は入力順。
func GroupByLabelGender(t metadata.Table, genders []string) Grouped {
	wanted := make(map[string]bool, len(genders))
	for _, g := range genders {
		wanted[g] = true
	}

	g := Grouped{Genders: genders, Groups: make(map[GroupKey]metadata.Table)}
	labels := make(map[string]bool)
	for _, r := range t {
		if !wanted[r.PatientGender] {
			g.Excluded++
			continue
		}
		key := GroupKey{Label: r.FindingLabels, Gender: r.PatientGender}
		g.Groups[key] = append(g.Groups[key], r)
		labels[r.FindingLabels] = true
	}

	for label := range labels {
		g.Labels = append(g.Labels, label)
	}
	sort.Strings(g.Labels)
	return g
}

// Counts はラベル名順・性別指定順のグループ行数を返す
func (g Grouped) Counts() []GroupCount {
	counts := make([]GroupCount, 0, len(g.Labels)*len(g.Genders))
	for _, label := range g.Labels {
		for _, gender := range g.Genders {
			counts = append(counts, GroupCount{
				Label:  label,
				Gender: gender,
				Count:  len(g.Groups[GroupKey{Label: label, Gender: gender}]),
			})
		}
	}
	return counts
}

// MinCount は最小のグループ行数を返す
//
// 出現したラベルと指定した性別の全組み合わせが対象で、行が無い組み合わせは
// InsufficientSamplesError になる。
func (g Grouped) MinCount() (int, error) {
	counts := g.Counts()
	if len(counts) == 0 {
		return 0, fmt.Errorf("%w: 均等化対象の行がありません", ErrInsufficientSamples)
	}

	minCount := counts[0].Count
	for _, c := range counts {
		if c.Count < 1 {
			return 0, &InsufficientSamplesError{Label: c.Label, Gender: c.Gender, Count: c.Count}
		}
		if c.Count < minCount {
			minCount = c.Count
		}
	}
	return minCount, nil
}

// Balance は全 (ラベル, 性別) グループを最小のグループ行数に揃える
//
// 各グループから seed で初期化した乱数で重複なしに抽出し、連結した後に
// 同じ seed で全体をシャッフルする。同じ入力と seed なら結果の内容と順序は同一。
func Balance(t metadata.Table, genders []string, seed uint64) (metadata.Table, BalanceReport, error) {
	grouped := GroupByLabelGender(t, genders)
	report := BalanceReport{
		Groups:   grouped.Counts(),
		Excluded: grouped.Excluded,
	}

	minCount, err := grouped.MinCount()
	if err != nil {
		return nil, report, err
	}
	report.MinCount = minCount

	balanced := make(metadata.Table, 0, len(grouped.Labels)*len(genders)*minCount)
	for _, label := range grouped.Labels {
		for _, gender := range genders {
			group := grouped.Groups[GroupKey{Label: label, Gender: gender}]
			balanced = append(balanced, SampleWithoutReplacement(group, minCount, seed)...)
			report.Surplus += len(group) - minCount
		}
	}

	rng := newRand(seed)
	rng.Shuffle(len(balanced), func(i, j int) {
		balanced[i], balanced[j] = balanced[j], balanced[i]
	})

	return balanced, report, nil
}

// SampleWithoutReplacement は t から k 行を重複なしに無作為抽出する
//
// 抽出順に並んだ新しいTableを返す。k が行数以上なら全行をシャッフルして返す。
func SampleWithoutReplacement(t metadata.Table, k int, seed uint64) metadata.Table {
	pool := t.Clone()
	if k > len(pool) {
		k = len(pool)
	}
	if k <= 0 {
		return metadata.Table{}
	}

	rng := newRand(seed)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}
