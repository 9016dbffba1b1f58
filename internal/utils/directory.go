package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Duplicate は複数のディレクトリに存在した同名ファイル
type Duplicate struct {
	Name     string // ファイル名
	Previous string // 上書きされたパス
	Kept     string // 採用されたパス
}

// ImageIndex はファイル名から絶対パスへの対応表
type ImageIndex struct {
	paths      map[string]string
	Duplicates []Duplicate
}

// NewImageIndex は対応表から直接ImageIndexを作成
func NewImageIndex(paths map[string]string) *ImageIndex {
	idx := &ImageIndex{paths: make(map[string]string, len(paths))}
	for name, path := range paths {
		idx.paths[name] = path
	}
	return idx
}

// BuildImageIndex は各ディレクトリ直下のファイルを走査して対応表を作成
//
// ディレクトリは指定順、ファイルは名前順に走査する。同名ファイルは後に
// 走査したものが残り、Duplicatesに記録される。
func BuildImageIndex(dirs []string) (*ImageIndex, error) {
	idx := &ImageIndex{paths: make(map[string]string)}

	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("パスの解決に失敗 %s: %w", dir, err)
		}

		files, err := GetFiles(absDir)
		if err != nil {
			return nil, fmt.Errorf("画像ディレクトリの走査に失敗 %s: %w", dir, err)
		}

		for _, path := range files {
			name := filepath.Base(path)
			if prev, exists := idx.paths[name]; exists {
				idx.Duplicates = append(idx.Duplicates, Duplicate{Name: name, Previous: prev, Kept: path})
			}
			idx.paths[name] = path
		}
	}

	return idx, nil
}

// Lookup はファイル名に対応するパスを返す
func (i *ImageIndex) Lookup(name string) (string, bool) {
	if i == nil {
		return "", false
	}
	path, ok := i.paths[name]
	return path, ok
}

// Len は登録されたファイル数を返す
func (i *ImageIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.paths)
}

// GetFiles はディレクトリ直下の通常ファイルを名前順で取得 (隠しファイルは除外)
func GetFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		// .DS_Storeなどの隠しファイルを除外
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}
