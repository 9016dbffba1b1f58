package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cxr-dataset-builder/internal/config"
	"cxr-dataset-builder/internal/logging"
	"cxr-dataset-builder/internal/metadata"
	"cxr-dataset-builder/internal/metrics"
	"cxr-dataset-builder/internal/processor"
	"cxr-dataset-builder/internal/report"
	"cxr-dataset-builder/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// RootCommand はコマンドツリーを作成
func RootCommand(ctx context.Context) *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:           "cxr-dataset",
		Short:         "胸部X線メタデータからキャプション付きの均等化データセットを作成",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "設定ファイル (YAML)")
	cmd.PersistentFlags().String("metadata", "", "メタデータCSV/TSV/XLSXのパス")
	cmd.PersistentFlags().StringSlice("image-dir", nil, "画像ディレクトリ (複数指定可)")
	cmd.PersistentFlags().String("output", "", "出力先ディレクトリのパス")
	cmd.PersistentFlags().StringSlice("vocabulary", nil, "採用する所見ラベル")
	cmd.PersistentFlags().String("view", "", "撮影方向 (例: PA)")
	cmd.PersistentFlags().Bool("debug", false, "デバッグログを出力")
	bindFlags(v, cmd, true, map[string]string{
		"metadata":    "metadata",
		"image_dirs":  "image-dir",
		"output_dir":  "output",
		"vocabulary":  "vocabulary",
		"target_view": "view",
	})

	load := func(c *cobra.Command) (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, nil, err
		}
		if debug, _ := c.Flags().GetBool("debug"); debug {
			cfg.Log.Level = "debug"
		}
		logger := logging.New(os.Stderr, cfg.Log)
		if snapshot, err := cfg.Snapshot(); err == nil {
			logger.Debug("設定を読み込みました", "config", string(snapshot))
		}
		return cfg, logger, nil
	}

	cmd.AddCommand(buildCommand(ctx, v, load), compareCommand(load), summaryCommand(load))
	return cmd
}

type loadFunc func(*cobra.Command) (*config.Config, *slog.Logger, error)

// bindFlags はフラグを設定キーにひも付ける (未指定のフラグは既定値を上書きしない)
func bindFlags(v *viper.Viper, cmd *cobra.Command, persistent bool, keys map[string]string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func buildCommand(ctx context.Context, v *viper.Viper, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "均等化したデータセットとマニフェストを作成",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := load(c)
			if err != nil {
				return err
			}
			return runBuild(ctx, cfg, logger)
		},
	}
	cmd.Flags().Uint64("seed", 0, "サンプリング用シード")
	cmd.Flags().Bool("tar", false, "出力をtarファイルにまとめる")
	cmd.Flags().Bool("copy-images", true, "画像を出力先にコピー")
	cmd.Flags().Int("copy-workers", 0, "ファイルコピーの並列数")
	cmd.Flags().String("metrics-file", "", "Prometheusテキスト形式のメトリクス出力先")
	bindFlags(v, cmd, false, map[string]string{
		"random_seed":  "seed",
		"tar_output":   "tar",
		"copy_images":  "copy-images",
		"copy_workers": "copy-workers",
		"metrics_file": "metrics-file",
	})
	return cmd
}

func runBuild(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateBuild(); err != nil {
		return fmt.Errorf("設定エラー: %w", err)
	}

	runID := processor.NewRunID()
	logger = logger.With("run_id", runID)
	logger.Info("データセット作成を開始します",
		"metadata", cfg.MetadataPath,
		"image_dirs", cfg.ImageDirs,
		"output", cfg.OutputDir,
		"vocabulary", cfg.Vocabulary,
		"target_view", cfg.TargetView,
		"genders", cfg.Genders,
		"seed", cfg.RandomSeed,
		"tar", cfg.TarOutput,
		"copy_workers", cfg.GetMaxCopyWorkers())

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	table, err := metadata.LoadTable(cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("メタデータの読み込みに失敗: %w", err)
	}

	index, err := buildIndex(cfg.ImageDirs, logger, m)
	if err != nil {
		return err
	}

	opts := processor.OptionsFromConfig(cfg)
	result, err := processor.New(opts, logger, m).Build(table, index)
	if err != nil {
		writeMetrics(cfg.MetricsFile, registry, logger)
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("出力先ディレクトリの作成に失敗: %w", err)
	}

	info := processor.NewRunInfo(runID, cfg.MetadataPath, opts, result)
	info.DuplicateFilenames = len(index.Duplicates)

	dataset := result.Dataset
	if cfg.CopyImages {
		imagesDir := filepath.Join(cfg.OutputDir, processor.ImagesDirName)
		sources := make([]string, len(dataset))
		for i, r := range dataset {
			sources[i] = r.ImagePath
		}
		copied, err := processor.CopyImagesParallel(ctx, imagesDir, sources, cfg.GetMaxCopyWorkers())
		m.AddCopiedImages(copied)
		info.CopiedImages = copied
		if err != nil {
			return fmt.Errorf("画像のコピーに失敗: %w", err)
		}
		logger.Info("画像をコピーしました", "dir", imagesDir, "files", copied)
	}

	manifestPath := filepath.Join(cfg.OutputDir, processor.ManifestFileName)
	if err := processor.WriteManifest(manifestPath, processor.Manifest(dataset)); err != nil {
		return err
	}
	logger.Info("マニフェストを書き出しました", "path", manifestPath, "rows", len(dataset))

	if err := processor.WriteRunInfo(filepath.Join(cfg.OutputDir, processor.RunInfoFileName), info); err != nil {
		return err
	}

	if cfg.TarOutput {
		tarPath := processor.TarPathFor(cfg.OutputDir)
		logger.Info("tarファイルの作成を開始します", "path", tarPath)
		if err := processor.CreateTarArchive(cfg.OutputDir, tarPath); err != nil {
			logger.Warn("tarファイルの作成に失敗", "error", err)
		} else {
			logger.Info("tarファイルの作成が完了しました", "path", tarPath)
		}
	}

	writeMetrics(cfg.MetricsFile, registry, logger)
	logger.Info("データセット作成が完了しました", "rows", len(dataset), "min_count", result.Balance.MinCount)
	return nil
}

// buildIndex は画像ディレクトリを走査し、重複したファイル名を警告する
func buildIndex(dirs []string, logger *slog.Logger, m *metrics.Metrics) (*utils.ImageIndex, error) {
	index, err := utils.BuildImageIndex(dirs)
	if err != nil {
		return nil, fmt.Errorf("画像ディレクトリの走査に失敗: %w", err)
	}
	for _, d := range index.Duplicates {
		logger.Warn("同名の画像が複数のディレクトリにあります (後のものを使用)",
			"name", d.Name, "previous", d.Previous, "kept", d.Kept)
	}
	m.AddDuplicateFilenames(len(index.Duplicates))
	logger.Info("画像ディレクトリを走査しました", "dirs", len(dirs), "files", index.Len(), "duplicates", len(index.Duplicates))
	return index, nil
}

func writeMetrics(path string, registry *prometheus.Registry, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path, registry); err != nil {
		logger.Warn("メトリクスの書き出しに失敗", "path", path, "error", err)
		return
	}
	logger.Info("メトリクスを書き出しました", "path", path)
}

func compareCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "2つの絞り込み条件で対象ラベルの患者を比較",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := load(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCompare(); err != nil {
				return fmt.Errorf("設定エラー: %w", err)
			}

			table, err := metadata.LoadTable(cfg.MetadataPath)
			if err != nil {
				return fmt.Errorf("メタデータの読み込みに失敗: %w", err)
			}

			var index *utils.ImageIndex
			if len(cfg.ImageDirs) > 0 {
				if index, err = buildIndex(cfg.ImageDirs, logger, nil); err != nil {
					return err
				}
			}

			cmp := report.NewComparator(cfg.Compare, cfg.Genders, index, logger).Compare(table)
			return cmp.WriteText(c.OutOrStdout())
		},
	}
}

func summaryCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "クラスごとの性別・撮影方向の分布を集計",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := load(c)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("設定エラー: %w", err)
			}

			table, err := metadata.LoadTable(cfg.MetadataPath)
			if err != nil {
				return fmt.Errorf("メタデータの読み込みに失敗: %w", err)
			}

			deduped := processor.New(processor.OptionsFromSelection(cfg.GetSelection()), logger, nil).Filter(table)
			summary := report.Summarize(deduped, cfg.Genders)
			if err := summary.WriteText(c.OutOrStdout()); err != nil {
				return err
			}

			if cfg.OutputDir == "" {
				return nil
			}
			paths, err := summary.WriteCSVs(cfg.OutputDir)
			if err != nil {
				return err
			}
			logger.Info("分布CSVを書き出しました", "files", paths)
			return nil
		},
	}
}
