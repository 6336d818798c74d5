// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	WebSearch     WebSearchConfig     `mapstructure:"websearch"`
	Session       SessionConfig       `mapstructure:"session"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储直接补全（DirectCompletion）所用大语言模型的配置。
// Provider 取值 gemini 或 openai（任何 OpenAI 兼容接口）。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示使用服务端默认值）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AgentConfig 存储工具增强 Agent 的配置，Agent 通过 OpenAI 兼容接口调用模型。
type AgentConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 连接配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// RetrievalConfig 存储向量检索的索引与命名空间配置。
type RetrievalConfig struct {
	IndexName     string `mapstructure:"index_name"`
	Namespace     string `mapstructure:"namespace"`
	TopK          int    `mapstructure:"top_k"`
	NumCandidates int    `mapstructure:"num_candidates"`
}

// WebSearchConfig 存储联网搜索工具的配置。
// Command/Args 指定 MCP stdio 子进程，Tavily* 由子进程自身使用。
type WebSearchConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Command       string   `mapstructure:"command"`
	Args          []string `mapstructure:"args"`
	TavilyAPIKey  string   `mapstructure:"tavily_api_key"`
	TavilyBaseURL string   `mapstructure:"tavily_base_url"`
	MaxResults    int      `mapstructure:"max_results"`
	SearchDepth   string   `mapstructure:"search_depth"`
}

// SessionConfig 存储会话任务队列相关的配置。
type SessionConfig struct {
	MaxConcurrentPipelines int `mapstructure:"max_concurrent_pipelines"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置，仅供离线导入记录台账使用。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时关闭向量缓存。
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// IngestionConfig 存储知识库导入的切块与批量参数。
type IngestionConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size"`
	Concurrency  int `mapstructure:"concurrency"`

	// SeedDir 非空时服务启动后在后台导入该目录下的文件（已导入的跳过）。
	SeedDir string `mapstructure:"seed_dir"`
}

// envPrefix 是覆盖配置项时使用的环境变量前缀，例如 MATH_AGENT_SERVER_PORT。
const envPrefix = "MATH_AGENT"

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Load 依次加载 .env、默认值、YAML 文件和环境变量，后者覆盖前者。
// 配置文件不存在时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 不存在时直接依赖进程环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindWellKnownEnv(v); err != nil {
		return Config{}, err
	}

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", statErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// bindWellKnownEnv 绑定第三方服务约定俗成的环境变量名。
func bindWellKnownEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"llm.api_key":              {envPrefix + "_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"},
		"agent.api_key":            {envPrefix + "_AGENT_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"},
		"embedding.api_key":        {envPrefix + "_EMBEDDING_API_KEY", "EMBEDDING_API_KEY", "HF_TOKEN"},
		"websearch.tavily_api_key": {envPrefix + "_WEBSEARCH_TAVILY_API_KEY", "TAVILY_API_KEY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"https://math-agent-mu.vercel.app"})
	v.SetDefault("server.watch_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.timeout", time.Duration(0))
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 0.0)
	v.SetDefault("llm.generation.max_tokens", 0)

	v.SetDefault("agent.enabled", true)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("agent.model", "gemini-2.5-flash")
	v.SetDefault("agent.max_iterations", 5)

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "intfloat/multilingual-e5-large")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", time.Duration(0))

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")

	v.SetDefault("retrieval.index_name", "math-docs")
	v.SetDefault("retrieval.namespace", "engg-math-1")
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.num_candidates", 50)

	v.SetDefault("websearch.enabled", true)
	v.SetDefault("websearch.command", "websearch-mcp")
	v.SetDefault("websearch.args", []string{})
	v.SetDefault("websearch.tavily_api_key", "")
	v.SetDefault("websearch.tavily_base_url", "https://api.tavily.com")
	v.SetDefault("websearch.max_results", 3)
	v.SetDefault("websearch.search_depth", "basic")

	v.SetDefault("session.max_concurrent_pipelines", 16)

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("database.redis.embedding_ttl", 7*24*time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "math-agent-ingestion")
	v.SetDefault("kafka.group_id", "math-agent-ingestion-consumer")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "math-docs")

	v.SetDefault("tika.server_url", "http://localhost:9998")

	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 200)
	v.SetDefault("ingestion.batch_size", 80)
	v.SetDefault("ingestion.concurrency", 4)
	v.SetDefault("ingestion.seed_dir", "")
}
