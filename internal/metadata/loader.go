package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// 読み込み時のエラー
var (
	ErrMissingColumn       = errors.New("必須列がありません")
	ErrMalformedRow        = errors.New("不正な行")
	ErrDuplicateImageIndex = errors.New("Image Indexが重複しています")
	ErrUnsupportedFormat   = errors.New("未対応のファイル形式")
	ErrEmptyTable          = errors.New("表が空です")
)

// 読み飛ばすシート名
var skipSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// LoadTable はCSV/TSV/XLSXファイルからTableを読み込む
func LoadTable(path string) (Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("メタデータファイルを開けません: %w", err)
		}
		defer f.Close()
		return ReadCSV(f, ext == ".tsv")
	case ".xlsx":
		return readExcel(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ReadCSV はCSV (またはTSV) を読み込む
func ReadCSV(r io.Reader, tsv bool) (Table, error) {
	reader := csv.NewReader(r)
	if tsv {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSVの解析に失敗: %w", err)
	}
	return parseRows(rows)
}

func readExcel(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("Excelファイルを開けません: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: シートがありません", ErrEmptyTable)
	}

	sheetName := ""
	for _, sheet := range sheets {
		if !skipSheets[strings.ToLower(sheet)] {
			sheetName = sheet
			break
		}
	}
	if sheetName == "" {
		sheetName = sheets[len(sheets)-1]
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("シート %s の読み込みに失敗: %w", sheetName, err)
	}
	return parseRows(rows)
}

// parseRows は先頭行をヘッダとして行列をTableへ変換
func parseRows(rows [][]string) (Table, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	colIdx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, exists := colIdx[name]; !exists {
			colIdx[name] = i
		}
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := colIdx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	field := func(row []string, col string) string {
		i := colIdx[col]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	table := make(Table, 0, len(rows)-1)
	seen := make(map[string]int, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2 // ヘッダが1行目
		if isBlankRow(row) {
			continue
		}

		imageIndex := strings.TrimSpace(field(row, ColumnImageIndex))
		if imageIndex == "" {
			return nil, fmt.Errorf("%w: %d行目の %s が空です", ErrMalformedRow, line, ColumnImageIndex)
		}
		if prev, dup := seen[imageIndex]; dup {
			return nil, fmt.Errorf("%w: %s (%d行目と%d行目)", ErrDuplicateImageIndex, imageIndex, prev, line)
		}
		seen[imageIndex] = line

		followUpRaw := strings.TrimSpace(field(row, ColumnFollowUpNumber))
		followUp, err := strconv.Atoi(followUpRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %d行目の %s が整数ではありません: %q", ErrMalformedRow, line, ColumnFollowUpNumber, followUpRaw)
		}

		table = append(table, Record{
			PatientID:      strings.TrimSpace(field(row, ColumnPatientID)),
			ImageIndex:     imageIndex,
			FindingLabels:  field(row, ColumnFindingLabels),
			ViewPosition:   field(row, ColumnViewPosition),
			PatientGender:  field(row, ColumnPatientGender),
			FollowUpNumber: followUp,
		})
	}

	return table, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
