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
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Astra    AstraConfig    `mapstructure:"astra"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	LLM      LLMConfig      `mapstructure:"llm"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Search   SearchConfig   `mapstructure:"search"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb" validate:"min=1"`
	RateLimit    float64       `mapstructure:"rate_limit"` // 每秒请求数，0表示不限
	RateBurst    int           `mapstructure:"rate_burst"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// AstraConfig Astra DB连接配置
type AstraConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Token      string `mapstructure:"token"`
	Keyspace   string `mapstructure:"keyspace"`
	Collection string `mapstructure:"collection"`
}

// OpenAIConfig OpenAI凭据
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// EmbedConfig 向量嵌入配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=openai astra local"`
	Model      string        `mapstructure:"model"`      // 为空时使用提供方的默认模型
	Dimensions int           `mapstructure:"dimensions"` // 为0时取vectordb.dimension
	BatchSize  int           `mapstructure:"batch_size" validate:"min=1"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0"`
	Fallback   bool          `mapstructure:"fallback"` // 主服务失败时退回本地哈希向量
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=openai"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"min=1"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=1s"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0"`
	Template    string        `mapstructure:"template" validate:"oneof=default strict"`
}

// VectorDBConfig 向量库配置
type VectorDBConfig struct {
	Type      string        `mapstructure:"type" validate:"oneof=astra memory pgvector"`
	DSN       string        `mapstructure:"dsn"` // pgvector连接串
	Table     string        `mapstructure:"table"`
	Dimension int           `mapstructure:"dimension" validate:"min=1"`
	Distance  string        `mapstructure:"distance" validate:"oneof=cosine dot l2"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DriveConfig Google Drive配置
type DriveConfig struct {
	Enable          bool   `mapstructure:"enable"`
	TokenFile       string `mapstructure:"token_file"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ParentFolderID  string `mapstructure:"parent_folder_id"`
}

// StorageConfig 图片存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"`
	Path      string `mapstructure:"path"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Type     string `mapstructure:"type" validate:"oneof=memory redis"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // 秒
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步导入队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`
	Type          string `mapstructure:"type" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Concurrency   int    `mapstructure:"concurrency" validate:"min=1"`
	RetryLimit    int    `mapstructure:"retry_limit" validate:"min=0"`
	RetryDelay    int    `mapstructure:"retry_delay"` // 秒
	UploadDir     string `mapstructure:"upload_dir"`  // 待处理PDF暂存目录
}

// DatabaseConfig 台账数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite"`
	DSN  string `mapstructure:"dsn"`
}

// IngestConfig PDF导入配置
type IngestConfig struct {
	IDScheme      string `mapstructure:"id_scheme" validate:"oneof=hash name uuid"`
	TextLimit     int    `mapstructure:"text_limit" validate:"min=1"`
	ExtractImages bool   `mapstructure:"extract_images"`
	RenderPages   bool   `mapstructure:"render_pages"`
	RenderDPI     int    `mapstructure:"render_dpi" validate:"min=36,max=1200"`
	Pdftoppm      string `mapstructure:"pdftoppm"`
}

// SearchConfig 检索配置
type SearchConfig struct {
	TopK         int     `mapstructure:"top_k" validate:"min=1,max=50"`
	MinScore     float32 `mapstructure:"min_score"`
	SnippetLimit int     `mapstructure:"snippet_limit" validate:"min=1"`
	CacheAnswers bool    `mapstructure:"cache_answers"`
	RenderHTML   bool    `mapstructure:"render_html"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"` // 为空时只输出到stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// envBindings 兼容部署环境中使用的变量名
var envBindings = map[string]string{
	"astra.endpoint":         "ASTRA_DB_API_ENDPOINT",
	"astra.token":            "ASTRA_DB_APPLICATION_TOKEN",
	"astra.collection":       "ASTRA_DB_COLLECTION",
	"astra.keyspace":         "ASTRA_DB_KEYSPACE",
	"openai.api_key":         "OPENAI_API_KEY",
	"openai.base_url":        "OPENAI_BASE_URL",
	"drive.token_file":       "GOOGLE_TOKEN_FILE",
	"drive.credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
	"server.port":            "PORT",
}

// Load 从文件、.env和环境变量加载配置
// 配置文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	// .env不存在不是错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = "config.yaml"
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.WithField("path", configPath).Debug("Config file not found, using defaults")
	} else {
		logrus.WithField("path", v.ConfigFileUsed()).Info("Using config file")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandEnvironmentVariables(&cfg)
	if cfg.Embed.Dimensions == 0 {
		cfg.Embed.Dimensions = cfg.VectorDB.Dimension
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault 将默认配置写入文件
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return v.WriteConfigAs(path)
}

// Validate 校验配置项取值和组件依赖的凭据
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Embed.Dimensions != c.VectorDB.Dimension {
		return fmt.Errorf("invalid config: embed.dimensions (%d) must match vectordb.dimension (%d)",
			c.Embed.Dimensions, c.VectorDB.Dimension)
	}
	if c.VectorDB.Type == "astra" && (c.Astra.Endpoint == "" || c.Astra.Token == "") {
		return errors.New("invalid config: astra endpoint and token are required for the astra vector store")
	}
	if c.VectorDB.Type == "pgvector" && c.VectorDB.DSN == "" {
		return errors.New("invalid config: vectordb.dsn is required for pgvector")
	}
	if c.Embed.Provider == "astra" && (c.Astra.Endpoint == "" || c.Astra.Token == "") {
		return errors.New("invalid config: astra endpoint and token are required for astra embeddings")
	}
	if c.Storage.Type == "minio" && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return errors.New("invalid config: storage endpoint and bucket are required for minio")
	}
	return nil
}

// expandEnvironmentVariables 展开 ${VAR} 形式的取值
func expandEnvironmentVariables(cfg *Config) {
	for _, s := range []*string{
		&cfg.Astra.Endpoint,
		&cfg.Astra.Token,
		&cfg.OpenAI.APIKey,
		&cfg.OpenAI.BaseURL,
		&cfg.VectorDB.DSN,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		if strings.HasPrefix(*s, "${") && strings.HasSuffix(*s, "}") {
			if val := os.Getenv((*s)[2 : len(*s)-1]); val != "" {
				*s = val
			}
		}
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7860)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("astra.endpoint", "")
	v.SetDefault("astra.token", "")
	v.SetDefault("astra.keyspace", "default_keyspace")
	v.SetDefault("astra.collection", "pdf_data")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")

	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.batch_size", 64)
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.fallback", false)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.template", "default")

	v.SetDefault("vectordb.type", "astra")
	v.SetDefault("vectordb.dsn", "")
	v.SetDefault("vectordb.table", "pdf_records")
	v.SetDefault("vectordb.dimension", 1536)
	v.SetDefault("vectordb.distance", "cosine")
	v.SetDefault("vectordb.timeout", "20s")

	v.SetDefault("drive.enable", true)
	v.SetDefault("drive.token_file", "token.json")
	v.SetDefault("drive.credentials_file", "")
	v.SetDefault("drive.parent_folder_id", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "pdf_images")
	v.SetDefault("storage.bucket", "pdfqa")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.prefix", "images")

	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.prefix", "pdfqa")

	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry_limit", 2)
	v.SetDefault("queue.retry_delay", 30)
	v.SetDefault("queue.upload_dir", "data/uploads")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/pdfqa.db")

	v.SetDefault("ingest.id_scheme", "hash")
	v.SetDefault("ingest.text_limit", 1000)
	v.SetDefault("ingest.extract_images", true)
	v.SetDefault("ingest.render_pages", true)
	v.SetDefault("ingest.render_dpi", 300)
	v.SetDefault("ingest.pdftoppm", "pdftoppm")

	v.SetDefault("search.top_k", 3)
	v.SetDefault("search.min_score", 0)
	v.SetDefault("search.snippet_limit", 400)
	v.SetDefault("search.cache_answers", true)
	v.SetDefault("search.render_html", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}
