package config

import (
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/scoring"
	"github.com/apk-analysis/apk-triage-go/internal/staticanalysis"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	RabbitMQ  RabbitMQConfig `mapstructure:"rabbitmq"`
	Analysis  AnalysisConfig `mapstructure:"analysis"`
	ThreatDB  ThreatDBConfig `mapstructure:"threatdb"`
	Watcher   WatcherConfig  `mapstructure:"watcher"`
	Log       LogConfig      `mapstructure:"log"`
	Admin     AdminConfig    `mapstructure:"admin"`
	UploadDir string         `mapstructure:"upload_dir"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"` // debug, release
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// AnalysisConfig 分析流水线配置
type AnalysisConfig struct {
	Workers        int    `mapstructure:"workers"`         // Worker 数量
	QueueSize      int    `mapstructure:"queue_size"`      // 任务队列大小
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 单个任务超时
	ScratchDir     string `mapstructure:"scratch_dir"`     // 解压临时目录
	MaxScanFiles   int    `mapstructure:"max_scan_files"`
	MaxScanFileMB  int64  `mapstructure:"max_scan_file_mb"`
	RetentionHours int    `mapstructure:"retention_hours"` // 内存中任务保留时间

	Scoring ScoringConfig `mapstructure:"scoring"`
}

// ScoringConfig 评分模型的权重与阈值
type ScoringConfig struct {
	Permissions staticanalysis.PermissionWeights `mapstructure:"permissions"`
	Code        staticanalysis.CodeWeights       `mapstructure:"code"`
	Thresholds  scoring.Thresholds               `mapstructure:"thresholds"`
}

// DefaultScoringConfig 默认评分模型
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Permissions: staticanalysis.DefaultPermissionWeights(),
		Code:        staticanalysis.DefaultCodeWeights(),
		Thresholds:  scoring.DefaultThresholds(),
	}
}

// ScoringModel 返回评分模型，未配置时使用默认值
func (c AnalysisConfig) ScoringModel() ScoringConfig {
	if c.Scoring == (ScoringConfig{}) {
		return DefaultScoringConfig()
	}
	return c.Scoring
}

// Timeout 返回任务超时时间
func (c AnalysisConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ThreatDBConfig 威胁库配置
type ThreatDBConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// WatcherConfig 目录监控配置
type WatcherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/reports.db")
	v.SetDefault("rabbitmq.queue", "apk_analysis")
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.queue_size", 100)
	v.SetDefault("analysis.timeout_seconds", 300)
	v.SetDefault("analysis.scratch_dir", "./data/scratch")
	v.SetDefault("analysis.max_scan_files", 500)
	v.SetDefault("analysis.max_scan_file_mb", 64)
	v.SetDefault("analysis.retention_hours", 24)
	v.SetDefault("threatdb.data_dir", "./data/threatdb")
	v.SetDefault("watcher.dir", "./inbound_apks")
	v.SetDefault("watcher.pattern", "*.apk")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("upload_dir", "./data/uploads")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	v.AutomaticEnv()

	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	v.BindEnv("admin.token", "ADMIN_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// 评分模型字段较多，先填默认值，YAML 中出现的键逐个覆盖
	cfg := Config{Analysis: AnalysisConfig{Scoring: DefaultScoringConfig()}}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
