package processor

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TarPathFor は出力ディレクトリに対応するtarファイルのパスを返す (ディレクトリ名 + .tar)
func TarPathFor(sourceDir string) string {
	clean := filepath.Clean(sourceDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+".tar")
}

// CreateTarArchive はsourceDir以下をtarPathへアーカイブする
func CreateTarArchive(sourceDir, tarPath string) error {
	tarFile, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("tarファイルの作成に失敗: %w", err)
	}

	tarWriter := tar.NewWriter(tarFile)

	// ディレクトリ内のファイルを再帰的にtarに追加
	walkErr := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// ソースディレクトリ自体はスキップ
		if path == sourceDir {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		// ディレクトリの場合はファイル内容を書き込まない
		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})

	closeErr := tarWriter.Close()
	fileErr := tarFile.Close()
	switch {
	case walkErr != nil:
		return fmt.Errorf("ファイルのtar化に失敗: %w", walkErr)
	case closeErr != nil:
		return fmt.Errorf("tarの書き込みに失敗: %w", closeErr)
	case fileErr != nil:
		return fmt.Errorf("tarファイルのクローズに失敗: %w", fileErr)
	}
	return nil
}
