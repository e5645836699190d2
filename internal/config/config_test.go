package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-for-development-32-chars-minimum"

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"ONETIMEMAIL_WEBHOOK_SIGNING_KEY",
		"ONETIMEMAIL_SERVER_HOST",
		"ONETIMEMAIL_SERVER_PORT",
		"ONETIMEMAIL_INBOX_DOMAIN",
		"ONETIMEMAIL_INBOX_TTL",
		"ONETIMEMAIL_INBOX_ADDRESS_LEN",
		"ONETIMEMAIL_WEBHOOK_SENDER_LIMIT",
		"ONETIMEMAIL_ABUSE_HOURLY_CAP",
		"ONETIMEMAIL_ABUSE_BLOCK_TTL",
		"ONETIMEMAIL_CORS_ALLOWED_ORIGINS",
		"ONETIMEMAIL_LOG_LEVEL",
		"ONETIMEMAIL_LOG_DEVELOPMENT",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	clearEnv := func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
	}

	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv()
		os.Setenv("ONETIMEMAIL_WEBHOOK_SIGNING_KEY", testSigningKey)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "onetime.email", cfg.Inbox.Domain)
		assert.Equal(t, 10*time.Minute, cfg.Inbox.TTL)
		assert.Equal(t, 12, cfg.Inbox.AddressLen)
		assert.Equal(t, 3*time.Second, cfg.Inbox.QueryTimeout)

		assert.Equal(t, 300*time.Second, cfg.Webhook.ReplayWindow)
		assert.Equal(t, 60*time.Second, cfg.Webhook.RateWindow)
		assert.Equal(t, 10, cfg.Webhook.SenderLimit)
		assert.Equal(t, 15, cfg.Webhook.RecipientLimit)
		assert.Equal(t, 1024*1024, cfg.Webhook.MaxContentSize)

		assert.Equal(t, 50, cfg.Abuse.MaxPerFingerprint)
		assert.Equal(t, 7, cfg.Abuse.HourlyCap)
		assert.Equal(t, 50, cfg.Abuse.DailyCap)
		assert.Equal(t, 30*time.Second, cfg.Abuse.MinInterval)
		assert.Equal(t, 3, cfg.Abuse.BlockViolations)
		assert.Equal(t, 24*time.Hour, cfg.Abuse.Lookback)
		assert.Equal(t, time.Duration(0), cfg.Abuse.BlockTTL)

		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
	})

	t.Run("缺少签名密钥时报错", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "SECURITY ERROR")
	})

	t.Run("签名密钥过短时报错", func(t *testing.T) {
		clearEnv()
		os.Setenv("ONETIMEMAIL_WEBHOOK_SIGNING_KEY", "too-short")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "at least 32 characters")
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		clearEnv()
		os.Setenv("ONETIMEMAIL_WEBHOOK_SIGNING_KEY", testSigningKey)
		os.Setenv("ONETIMEMAIL_SERVER_HOST", "127.0.0.1")
		os.Setenv("ONETIMEMAIL_SERVER_PORT", "9090")
		os.Setenv("ONETIMEMAIL_INBOX_DOMAIN", "Disposable.Example")
		os.Setenv("ONETIMEMAIL_INBOX_TTL", "15m")
		os.Setenv("ONETIMEMAIL_WEBHOOK_SENDER_LIMIT", "20")
		os.Setenv("ONETIMEMAIL_ABUSE_HOURLY_CAP", "10")
		os.Setenv("ONETIMEMAIL_ABUSE_BLOCK_TTL", "72h")
		os.Setenv("ONETIMEMAIL_CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		// 域名统一小写
		assert.Equal(t, "disposable.example", cfg.Inbox.Domain)
		assert.Equal(t, 15*time.Minute, cfg.Inbox.TTL)
		assert.Equal(t, 20, cfg.Webhook.SenderLimit)
		assert.Equal(t, 10, cfg.Abuse.HourlyCap)
		assert.Equal(t, 72*time.Hour, cfg.Abuse.BlockTTL)
		assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORS.AllowedOrigins)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Equal(t, []string{"*"}, parseList("*"))
	assert.Empty(t, parseList(" , , "))
}
