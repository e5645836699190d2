package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboxConfig 定义一次性邮箱的核心业务配置
type InboxConfig struct {
	Domain       string        // 服务自有域名，收件地址统一签发在该域名下
	TTL          time.Duration // 邮箱固定生存时间，默认 10 分钟
	AddressLen   int           // 本地部分长度（小写字母数字），默认 12
	QueryTimeout time.Duration // 风控存储查询的请求级超时，默认 3 秒
}

// WebhookConfig 定义入站邮件 Webhook 的校验配置
type WebhookConfig struct {
	SigningKey     string        // 网关签名密钥，必须至少 32 字符
	ReplayWindow   time.Duration // 时间戳重放窗口，默认 300 秒
	RateWindow     time.Duration // 发件/收件限流窗口，默认 60 秒
	SenderLimit    int           // 窗口内单个发件人最多接受事件数，默认 10
	RecipientLimit int           // 窗口内单个收件地址最多接受事件数，默认 15
	MaxContentSize int           // 主题 + 正文 + HTML 字符总数上限，默认 1 MiB
	FloodRate      int           // 入站端点整体每秒速率上限，默认 50
	FloodBurst     int           // 入站端点突发容量，默认 100
}

// AbuseConfig 定义风控引擎阈值配置
type AbuseConfig struct {
	MaxPerFingerprint int           // 单指纹 24 小时创建上限，默认 50
	MaxPerIP          int           // 单 IP 24 小时创建上限，默认 50
	HourlyCap         int           // 单账号每小时创建上限，默认 7
	DailyCap          int           // 单账号每日创建上限，默认 50
	MinInterval       time.Duration // 两次创建之间的最小间隔，默认 30 秒
	BlockViolations   int           // 触发自动封禁的 critical 拦截次数，默认 3
	Lookback          time.Duration // 归因统计回溯窗口，默认 24 小时
	BlockTTL          time.Duration // 自动封禁有效期，0 表示永久
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 共享计数器（多实例部署需要）
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Inbox    InboxConfig
	Webhook  WebhookConfig
	Abuse    AbuseConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: ONETIMEMAIL_
// 例如: ONETIMEMAIL_SERVER_HOST, ONETIMEMAIL_WEBHOOK_SIGNING_KEY
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("onetimemail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("inbox.domain", "onetime.email")
	viper.SetDefault("inbox.ttl", "10m")
	viper.SetDefault("inbox.address_len", 12)
	viper.SetDefault("inbox.query_timeout", "3s")
	viper.SetDefault("webhook.signing_key", "")
	viper.SetDefault("webhook.replay_window", "300s")
	viper.SetDefault("webhook.rate_window", "60s")
	viper.SetDefault("webhook.sender_limit", 10)
	viper.SetDefault("webhook.recipient_limit", 15)
	viper.SetDefault("webhook.max_content_size", 1024*1024)
	viper.SetDefault("webhook.flood_rate", 50)
	viper.SetDefault("webhook.flood_burst", 100)
	viper.SetDefault("abuse.max_per_fingerprint", 50)
	viper.SetDefault("abuse.max_per_ip", 50)
	viper.SetDefault("abuse.hourly_cap", 7)
	viper.SetDefault("abuse.daily_cap", 50)
	viper.SetDefault("abuse.min_interval", "30s")
	viper.SetDefault("abuse.block_violations", 3)
	viper.SetDefault("abuse.lookback", "24h")
	viper.SetDefault("abuse.block_ttl", "0") // 0 表示永久封禁
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	ttl, err := time.ParseDuration(viper.GetString("inbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid inbox.ttl: %w", err)
	}

	queryTimeout, err := time.ParseDuration(viper.GetString("inbox.query_timeout"))
	if err != nil {
		queryTimeout = 3 * time.Second
	}

	inboxDomain := strings.ToLower(strings.TrimSpace(viper.GetString("inbox.domain")))
	if inboxDomain == "" {
		return nil, fmt.Errorf("inbox.domain must not be empty")
	}

	addressLen := viper.GetInt("inbox.address_len")
	if addressLen <= 0 {
		addressLen = 12
	}

	signingKey := viper.GetString("webhook.signing_key")

	// 安全检查：签名密钥是 webhook 验证的根基，不允许为空或过短
	if signingKey == "" {
		return nil, fmt.Errorf("SECURITY ERROR: webhook signing key is required. Please set ONETIMEMAIL_WEBHOOK_SIGNING_KEY environment variable")
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: webhook signing key must be at least 32 characters long")
	}

	replayWindow, err := time.ParseDuration(viper.GetString("webhook.replay_window"))
	if err != nil {
		replayWindow = 300 * time.Second
	}

	rateWindow, err := time.ParseDuration(viper.GetString("webhook.rate_window"))
	if err != nil {
		rateWindow = 60 * time.Second
	}

	minInterval, err := time.ParseDuration(viper.GetString("abuse.min_interval"))
	if err != nil {
		minInterval = 30 * time.Second
	}

	lookback, err := time.ParseDuration(viper.GetString("abuse.lookback"))
	if err != nil {
		lookback = 24 * time.Hour
	}

	blockTTL, err := time.ParseDuration(viper.GetString("abuse.block_ttl"))
	if err != nil {
		blockTTL = 0
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Inbox: InboxConfig{
			Domain:       inboxDomain,
			TTL:          ttl,
			AddressLen:   addressLen,
			QueryTimeout: queryTimeout,
		},
		Webhook: WebhookConfig{
			SigningKey:     signingKey,
			ReplayWindow:   replayWindow,
			RateWindow:     rateWindow,
			SenderLimit:    viper.GetInt("webhook.sender_limit"),
			RecipientLimit: viper.GetInt("webhook.recipient_limit"),
			MaxContentSize: viper.GetInt("webhook.max_content_size"),
			FloodRate:      viper.GetInt("webhook.flood_rate"),
			FloodBurst:     viper.GetInt("webhook.flood_burst"),
		},
		Abuse: AbuseConfig{
			MaxPerFingerprint: viper.GetInt("abuse.max_per_fingerprint"),
			MaxPerIP:          viper.GetInt("abuse.max_per_ip"),
			HourlyCap:         viper.GetInt("abuse.hourly_cap"),
			DailyCap:          viper.GetInt("abuse.daily_cap"),
			MinInterval:       minInterval,
			BlockViolations:   viper.GetInt("abuse.block_violations"),
			Lookback:          lookback,
			BlockTTL:          blockTTL,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
