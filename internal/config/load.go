package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix は環境変数による上書きの接頭辞
const EnvPrefix = "CXR"

// NewViper は既定値と環境変数の上書きを設定したviperインスタンスを返す
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, NewDefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("metadata", d.MetadataPath)
	v.SetDefault("image_dirs", d.ImageDirs)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("vocabulary", d.Vocabulary)
	v.SetDefault("target_view", d.TargetView)
	v.SetDefault("genders", d.Genders)
	v.SetDefault("random_seed", d.RandomSeed)
	v.SetDefault("caption_template", d.CaptionTemplate)
	v.SetDefault("copy_images", d.CopyImages)
	v.SetDefault("copy_workers", d.MaxCopyWorkers)
	v.SetDefault("tar_output", d.TarOutput)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("compare.label", d.Compare.Label)
	v.SetDefault("compare.examples", d.Compare.Examples)
	v.SetDefault("compare.a.name", d.Compare.A.Name)
	v.SetDefault("compare.a.vocabulary", d.Compare.A.Vocabulary)
	v.SetDefault("compare.a.target_view", d.Compare.A.TargetView)
	v.SetDefault("compare.b.name", d.Compare.B.Name)
	v.SetDefault("compare.b.vocabulary", d.Compare.B.Vocabulary)
	v.SetDefault("compare.b.target_view", d.Compare.B.TargetView)
}

// Load は設定ファイル (任意) を読み込みConfigを返す
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイルが見つかりません: %s", configFile)
			}
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}
	return cfg, nil
}

// Snapshot は設定をYAMLとして返す
func (c *Config) Snapshot() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("設定のYAML化に失敗: %w", err)
	}
	return out, nil
}
