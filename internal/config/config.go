// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// EnvPrefix 是覆盖配置项的环境变量前缀，例如 AGSTACK_DATABASE_DSN。
const EnvPrefix = "AGSTACK"

// PathEnv 指向配置文件路径，子进程中的辅助工具通过它读取同一份配置。
const PathEnv = "AGSTACK_CONFIG"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Artifacts     ArtifactsConfig     `mapstructure:"artifacts"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Runner        RunnerConfig        `mapstructure:"runner"`
	Prober        ProberConfig        `mapstructure:"prober"`
	Security      SecurityConfig      `mapstructure:"security"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
}

// DatabaseConfig 存储元数据库的配置。
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=mysql postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时使用进程内缓存。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig 控制元数据缓存。
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发送事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空时关闭目录检索。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ArtifactsConfig 选择结果文件的存储后端。
type ArtifactsConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=local minio"`
	Dir     string `mapstructure:"dir" validate:"required_if=Backend local"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url" validate:"required"`
	Model      string              `mapstructure:"model" validate:"required"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置代码生成的系统提示（可选）。
type LLMPromptConfig struct {
	Rules string `mapstructure:"rules"`
}

// RunnerConfig 配置执行生成代码的子进程。
type RunnerConfig struct {
	Interpreter      string        `mapstructure:"interpreter" validate:"required"`
	FileSuffix       string        `mapstructure:"file_suffix"`
	LibraryPath      string        `mapstructure:"library_path"`
	SearchPathEnv    string        `mapstructure:"search_path_env"`
	TempDir          string        `mapstructure:"temp_dir"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxOutputBytes   int           `mapstructure:"max_output_bytes"`
	MaxRegenerations int           `mapstructure:"max_regenerations" validate:"gte=0,lte=3"`
}

// ProberConfig 配置外部数据库探测。
type ProberConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SampleLimit    int           `mapstructure:"sample_limit" validate:"gte=0,lte=10"`
	SSLMode        string        `mapstructure:"ssl_mode"`
}

// SecurityConfig 存储密钥相关的配置。
type SecurityConfig struct {
	SecretKey       string        `mapstructure:"secret_key" validate:"required,min=16"`
	TicketSecret    string        `mapstructure:"ticket_secret" validate:"required"`
	TicketExpiresIn time.Duration `mapstructure:"ticket_expires_in"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:agstack.db?_foreign_keys=on")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("elasticsearch.index_name", "agstack_catalog")
	v.SetDefault("kafka.topic", "agstack-events")
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", "output")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("runner.interpreter", "python3")
	v.SetDefault("runner.file_suffix", ".py")
	v.SetDefault("runner.search_path_env", "PYTHONPATH")
	v.SetDefault("runner.timeout", 2*time.Minute)
	v.SetDefault("runner.max_output_bytes", 1<<20)
	v.SetDefault("runner.max_regenerations", 3)
	v.SetDefault("prober.connect_timeout", 10*time.Second)
	v.SetDefault("prober.sample_limit", 10)
	v.SetDefault("prober.ssl_mode", "prefer")
	v.SetDefault("security.ticket_expires_in", 5*time.Minute)

	// 没有默认值的键也要登记，AutomaticEnv 才能在 Unmarshal 时覆盖它们
	for _, key := range []string{
		"redis.addr", "redis.password",
		"kafka.brokers",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "minio.bucket_name",
		"llm.api_key", "llm.prompt.rules",
		"runner.library_path", "runner.temp_dir",
		"security.secret_key", "security.ticket_secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
}

// Load 读取 .env、YAML 文件与环境变量并校验，返回独立的配置实例。
// configPath 为空时只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	if err := cfg.resolvePaths(configPath); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths 把相对路径改写为以配置文件所在目录为基准的绝对路径。
// 子进程的工作目录是临时目录，辅助工具必须与服务端看到同一批文件。
func (c *Config) resolvePaths(configPath string) error {
	base, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("获取工作目录失败: %w", err)
	}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return fmt.Errorf("解析配置文件路径失败: %w", err)
		}
		base = filepath.Dir(abs)
	}
	for _, p := range []*string{
		&c.Artifacts.Dir,
		&c.Runner.LibraryPath,
		&c.Runner.TempDir,
		&c.Log.OutputPath,
	} {
		*p = anchor(base, *p)
	}
	if c.Database.Driver == "sqlite" {
		c.Database.DSN = anchorSQLiteDSN(base, c.Database.DSN)
	}
	return nil
}

func anchor(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// anchorSQLiteDSN 处理 "agstack.db" 与 "file:agstack.db?..." 两种写法，内存库保持不变。
func anchorSQLiteDSN(base, dsn string) string {
	prefix := ""
	rest := dsn
	if strings.HasPrefix(rest, "file:") {
		prefix, rest = "file:", strings.TrimPrefix(rest, "file:")
	}
	path, query, hasQuery := strings.Cut(rest, "?")
	if path == "" || strings.HasPrefix(path, ":") || strings.Contains(query, "mode=memory") {
		return dsn
	}
	out := prefix + anchor(base, path)
	if hasQuery {
		out += "?" + query
	}
	return out
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
