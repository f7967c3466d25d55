package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	OSS      OSSConfig      `mapstructure:"oss"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Training TrainingConfig `mapstructure:"training"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type QueueConfig struct {
	TrainingQueue string `mapstructure:"training_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console
	Output     string `mapstructure:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // local, oss, minio
	LocalRoot string `mapstructure:"local_root"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TrainingConfig 训练相关配置
type TrainingConfig struct {
	DatasetsDir  string        `mapstructure:"datasets_dir"` // 物化后的训练语料
	RunsDir      string        `mapstructure:"runs_dir"`     // 训练产物
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	// 本地训练器命令，例如 ["python", "scripts/train_local.py"]
	TrainCommand []string `mapstructure:"train_command"`
	EvalCommand  []string `mapstructure:"eval_command"`

	Remote RemoteConfig `mapstructure:"remote"`
}

type RemoteConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Token           string `mapstructure:"token"`
	Script          string `mapstructure:"script"`
	Timeout         string `mapstructure:"timeout"`
	DefaultHardware string `mapstructure:"default_hardware"`
	// 传给远程任务的环境变量，远程脚本用它访问对象存储
	Secrets map[string]string `mapstructure:"secrets"`
}

type CleanupConfig struct {
	CorpusTTL time.Duration `mapstructure:"corpus_ttl"`
	Interval  time.Duration `mapstructure:"interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type MetricsConfig struct {
	WorkerAddr string `mapstructure:"worker_addr"`
}

// RemoteEnabled 是否配置了远程训练服务
func (c *TrainingConfig) RemoteEnabled() bool {
	return c.Remote.Endpoint != ""
}

// ApplyDefaults 填充未配置的默认值
func (c *Config) ApplyDefaults() {
	if c.Queue.TrainingQueue == "" {
		c.Queue.TrainingQueue = "training_jobs"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "storage"
	}
	if c.Training.DatasetsDir == "" {
		c.Training.DatasetsDir = "datasets"
	}
	if c.Training.RunsDir == "" {
		c.Training.RunsDir = "training_runs"
	}
	if c.Training.PollInterval <= 0 {
		c.Training.PollInterval = 15 * time.Second
	}
	if c.Training.StaleAfter <= 0 {
		c.Training.StaleAfter = 6 * time.Hour
	}
	if c.Training.Remote.Timeout == "" {
		c.Training.Remote.Timeout = "3h"
	}
	if c.Training.Remote.DefaultHardware == "" {
		c.Training.Remote.DefaultHardware = "t4-small"
	}
	if c.Training.Remote.Script == "" {
		c.Training.Remote.Script = "yolo_train_remote.py"
	}
	if c.Cleanup.Interval <= 0 {
		c.Cleanup.Interval = time.Hour
	}
	if c.Cleanup.CorpusTTL <= 0 {
		c.Cleanup.CorpusTTL = 24 * time.Hour
	}
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}
