package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数
const ConfigFileEnv = "MIRWATCH_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Archive ArchiveConfig `yaml:"archive"`
	Verbose bool          `yaml:"verbose"` // デバッグログを出力する
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout        time.Duration `yaml:"read_timeout"`         // 読み込みタイムアウト
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout"` // 1フレームの送信タイムアウト (0で無効)
}

// CaptureConfig は映像源の設定
type CaptureConfig struct {
	Format   string `yaml:"format"`   // "v4l2" / "x11grab" / "pipe"
	Device   string `yaml:"device"`   // デバイスパス (例: /dev/video0)。v4l2 なら "auto" で自動検出、pipe なら "-" で標準入力
	Width    int    `yaml:"width"`    // 画像幅
	Height   int    `yaml:"height"`   // 画像高さ
	FPS      int    `yaml:"fps"`      // フレームレート
	Rotation int    `yaml:"rotation"` // 回転角度 (0/90/180/270)
}

// ArchiveConfig は録画ファイルの設定
type ArchiveConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Dir              string        `yaml:"dir"`               // 出力先ディレクトリ
	RotationInterval time.Duration `yaml:"rotation_interval"` // 1ファイルの長さ
	MaxFiles         int           `yaml:"max_files"`         // 保持するファイル数の上限
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			ReadTimeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Format: "v4l2",
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    24,
		},
		Archive: ArchiveConfig{
			Enabled:          true,
			Dir:              "./out",
			RotationInterval: time.Hour,
			MaxFiles:         24,
		},
	}
}

// Load は設定を読み込む。
// .env → 設定ファイル (MIRWATCH_CONFIG) → 環境変数 の順に上書きする。
func Load() (*Config, error) {
	// .env は無くてもよい
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はYAMLファイルから設定を読み込む（環境変数は見ない）
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// loadFile はYAMLファイルの内容で設定を上書きする
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Server.StreamWriteTimeout = getEnvAsDurationOrDefault("STREAM_WRITE_TIMEOUT", c.Server.StreamWriteTimeout)

	c.Capture.Format = getEnvOrDefault("CAPTURE_FORMAT", c.Capture.Format)
	c.Capture.Device = getEnvOrDefault("CAPTURE_DEVICE", c.Capture.Device)

	c.Archive.Dir = getEnvOrDefault("ARCHIVE_DIR", c.Archive.Dir)
	c.Archive.RotationInterval = getEnvAsDurationOrDefault("ROTATION_INTERVAL", c.Archive.RotationInterval)
	c.Archive.MaxFiles = getEnvAsIntOrDefault("ARCHIVE_MAX_FILES", c.Archive.MaxFiles)
	c.Archive.Enabled = getEnvAsBoolOrDefault("ARCHIVE_ENABLED", c.Archive.Enabled)

	c.Verbose = getEnvAsBoolOrDefault("VERBOSE", c.Verbose)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.StreamWriteTimeout < 0 {
		return fmt.Errorf("無効な送信タイムアウト: %s", c.Server.StreamWriteTimeout)
	}

	// 映像源の検証
	switch c.Capture.Format {
	case "v4l2", "x11grab", "pipe":
	default:
		return fmt.Errorf("無効な入力フォーマット: %q", c.Capture.Format)
	}
	if c.Capture.Device == "" {
		return errors.New("デバイスが指定されていません")
	}
	if c.Capture.Width <= 0 || c.Capture.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", c.Capture.Width)
	}
	if c.Capture.Height <= 0 || c.Capture.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", c.Capture.Height)
	}
	if c.Capture.FPS <= 0 || c.Capture.FPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.Capture.FPS)
	}
	switch c.Capture.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("無効な回転角度: %d", c.Capture.Rotation)
	}

	// 録画設定の検証
	if c.Archive.Enabled {
		if c.Archive.Dir == "" {
			return errors.New("録画ディレクトリが指定されていません")
		}
		if c.Archive.RotationInterval <= 0 {
			return fmt.Errorf("無効なローテーション間隔: %s", c.Archive.RotationInterval)
		}
		if c.Archive.MaxFiles < 1 {
			return fmt.Errorf("無効な保持数: %d", c.Archive.MaxFiles)
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を時間として取得する (例: "90s", "1h")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
