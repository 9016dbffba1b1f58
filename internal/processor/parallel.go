package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"cxr-dataset-builder/internal/utils"
)

// copyFile は単一ファイルをコピー
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// CopyImagesParallel はファイル群をdestDir直下へ元のファイル名で並列コピー
//
// 最初に失敗したコピーのエラーを返し、残りのコピーは中止する。
// 戻り値はコピーに成功したファイル数。
func CopyImagesParallel(ctx context.Context, destDir string, files []string, maxWorkers int) (int, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("ディレクトリの作成に失敗: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	sem := utils.NewSemaphore(maxWorkers)
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{}, len(files))

	for _, srcPath := range files {
		if err := sem.Acquire(gctx); err != nil {
			break
		}
		src := srcPath
		g.Go(func() error {
			defer sem.Release()

			destPath := filepath.Join(destDir, filepath.Base(src))
			if err := copyFile(src, destPath); err != nil {
				return fmt.Errorf("ファイルのコピーに失敗 %s -> %s: %w", src, destPath, err)
			}
			done <- struct{}{}
			return nil
		})
	}

	err := g.Wait()
	close(done)
	copied := len(done)
	if err != nil {
		return copied, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return copied, ctxErr
	}
	return copied, nil
}
