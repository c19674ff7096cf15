package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config 考勤流水线服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 流水线特定配置
	Pipeline struct {
		// 流水线名称（同时作为单飞租约的 key）
		Name string

		// 单次轮询的最大账本条目数
		BatchSize int

		// 哈希链校验算法：sha256（默认）或 sha1
		// ⚠️ 必须与考勤设备端的账本生成算法一致
		HashAlgorithm string

		// 去重窗口（秒），同一 badge/device 在窗口内的重复刷卡合并为一次
		DedupWindowSeconds int

		// 序列号缺口告警阈值，超过则发出 warning 告警（不阻塞处理）
		GapAlertThreshold int

		// 迟到宽限期（分钟），恰好等于宽限边界不算迟到
		GracePeriodMinutes int

		// 加班判定阈值（分钟），time_out 超过排班结束时间该值即记加班
		OvertimeThresholdMinutes int

		// 重试退避序列（秒），按次消耗，如 "60,120,300"
		RetryBackoff []time.Duration

		// 租约最大持有时间（分钟），超时视为崩溃、可被回收
		LeaseTTLMinutes int

		// 每日汇总计算的并发 worker 数
		SummaryWorkers int

		// 自动计算动作记录的系统用户 ID（启动时注入，不在使用点查找）
		SystemUserID string

		// Redis Streams 配置（变更事件发布）
		BatchStream   string // 批次处理事件流，如 "attendance:batch:events"
		SummaryStream string // 汇总变更事件流，如 "attendance:summary:events"
	}

	// 告警通知配置
	Notifier struct {
		MQTTEnabled bool
		TopicPrefix string // 如 "attendance/alerts"
		WebhookURL  string // 为空则不启用 webhook 通知
		Recipients  []string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "attendance")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-attendance")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 流水线配置
	cfg.Pipeline.Name = getEnv("PIPELINE_NAME", "attendance-pipeline")
	cfg.Pipeline.BatchSize = getEnvInt("PIPELINE_BATCH_SIZE", 500)
	cfg.Pipeline.HashAlgorithm = getEnv("PIPELINE_HASH_ALGORITHM", "sha256")
	cfg.Pipeline.DedupWindowSeconds = getEnvInt("PIPELINE_DEDUP_WINDOW_SECONDS", 90)
	cfg.Pipeline.GapAlertThreshold = getEnvInt("PIPELINE_GAP_ALERT_THRESHOLD", 10)
	cfg.Pipeline.GracePeriodMinutes = getEnvInt("PIPELINE_GRACE_PERIOD_MINUTES", 15)
	cfg.Pipeline.OvertimeThresholdMinutes = getEnvInt("PIPELINE_OVERTIME_THRESHOLD_MINUTES", 0)
	cfg.Pipeline.LeaseTTLMinutes = getEnvInt("PIPELINE_LEASE_TTL_MINUTES", 10)
	cfg.Pipeline.SummaryWorkers = getEnvInt("PIPELINE_SUMMARY_WORKERS", 4)
	cfg.Pipeline.SystemUserID = getEnv("PIPELINE_SYSTEM_USER_ID", "system")
	cfg.Pipeline.BatchStream = getEnv("PIPELINE_BATCH_STREAM", "attendance:batch:events")
	cfg.Pipeline.SummaryStream = getEnv("PIPELINE_SUMMARY_STREAM", "attendance:summary:events")

	backoff, err := parseBackoff(getEnv("PIPELINE_RETRY_BACKOFF_SECONDS", "60,120,300"))
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_RETRY_BACKOFF_SECONDS: %w", err)
	}
	cfg.Pipeline.RetryBackoff = backoff

	// 告警配置
	cfg.Notifier.MQTTEnabled = getEnv("ALERT_MQTT_ENABLED", "true") == "true"
	cfg.Notifier.TopicPrefix = getEnv("ALERT_TOPIC_PREFIX", "attendance/alerts")
	cfg.Notifier.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	if recipients := getEnv("ALERT_RECIPIENTS", ""); recipients != "" {
		cfg.Notifier.Recipients = strings.Split(recipients, ",")
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// parseBackoff 解析重试退避序列，如 "60,120,300"（秒）
func parseBackoff(s string) ([]time.Duration, error) {
	parts := strings.Split(s, ",")
	backoff := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seconds, err := strconv.Atoi(part)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("invalid backoff value: %q", part)
		}
		backoff = append(backoff, time.Duration(seconds)*time.Second)
	}
	if len(backoff) == 0 {
		return nil, fmt.Errorf("backoff list is empty")
	}
	return backoff, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
