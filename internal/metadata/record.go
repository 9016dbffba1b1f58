// Package metadata はX線画像メタデータ表の型と読み込みを提供する
package metadata

// メタデータ表の列名
const (
	ColumnPatientID      = "Patient ID"
	ColumnImageIndex     = "Image Index"
	ColumnFindingLabels  = "Finding Labels"
	ColumnViewPosition   = "View Position"
	ColumnPatientGender  = "Patient Gender"
	ColumnFollowUpNumber = "Follow-up #"
)

// RequiredColumns は読み込み時に必須の列
var RequiredColumns = []string{
	ColumnPatientID,
	ColumnImageIndex,
	ColumnFindingLabels,
	ColumnViewPosition,
	ColumnPatientGender,
	ColumnFollowUpNumber,
}

// LabelDelimiter は複数所見の区切り文字
const LabelDelimiter = "|"

// Record はメタデータ表の1行 (画像1枚)
type Record struct {
	PatientID      string
	ImageIndex     string // 画像ファイル名、表全体で一意
	FindingLabels  string
	ViewPosition   string
	PatientGender  string
	FollowUpNumber int

	// 以下は後段で付与される
	ImagePath string
	Caption   string
}

// Table は元の行順を保ったレコード列
//
// 各処理段は入力を変更せず新しいTableを返す。
type Table []Record

// Clone はTableの独立したコピーを返す
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Filter は条件を満たす行だけの新しいTableを返す
func (t Table) Filter(keep func(Record) bool) Table {
	out := make(Table, 0, len(t))
	for _, r := range t {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// PatientIDs は含まれる患者IDの集合を返す
func (t Table) PatientIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(t))
	for _, r := range t {
		ids[r.PatientID] = struct{}{}
	}
	return ids
}
