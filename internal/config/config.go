package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	LogLevel string

	// DBDriver sqlite|postgres
	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、通知 Topic、历史消费者组
	KafkaBrokers  []string
	NotifyTopic   string
	NotifyGroupID string

	// 通知 Redis Stream（服务写入，Relay 异步转 Kafka）
	NotifyStream         string
	NotifyStreamGroup    string
	NotifyStreamConsumer string

	// API 限流
	APIRateLimit  int
	APIRateWindow time.Duration

	// 管理接口的简单令牌
	AdminToken string

	// 支付网关
	PaymentWebhookSecret string
	PaymentAPIBase       string
	PaymentKeyID         string
	PaymentKeySecret     string
	PaymentCurrency      string

	// 物流
	CarrierAPIBase       string
	CarrierAPIKey        string
	CarrierWebhookSecret string

	// 费率缺省值，platform_settings 表为空时使用
	CommissionPercent  decimal.Decimal
	PlatformFeePercent decimal.Decimal
	DeliveryCharge     int64

	// 后台任务
	OutboxInterval time.Duration
	OutboxBatch    int
	ExpiryInterval time.Duration
	ResponseWindow time.Duration
	StatusCacheTTL time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DBDriver:             getEnv("DB_DRIVER", "sqlite"),
		DBDSN:                getEnv("DB_DSN", "tailor_hub.db"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:         splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		NotifyTopic:          getEnv("NOTIFY_TOPIC", "tailor-hub-notifications"),
		NotifyGroupID:        getEnv("NOTIFY_GROUP_ID", "tailor-hub-notification-history"),
		NotifyStream:         getEnv("NOTIFY_STREAM", "tailor_hub:notifications"),
		NotifyStreamGroup:    getEnv("NOTIFY_STREAM_GROUP", "tailor-hub-relay-group"),
		NotifyStreamConsumer: getEnv("NOTIFY_STREAM_CONSUMER", "tailor-hub-relay-1"),
		AdminToken:           getEnv("ADMIN_TOKEN", "dev-admin-token"),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentAPIBase:       getEnv("PAYMENT_API_BASE", "https://api.razorpay.com/v1"),
		PaymentKeyID:         getEnv("PAYMENT_KEY_ID", ""),
		PaymentKeySecret:     getEnv("PAYMENT_KEY_SECRET", ""),
		PaymentCurrency:      getEnv("PAYMENT_CURRENCY", "INR"),
		CarrierAPIBase:       getEnv("CARRIER_API_BASE", ""),
		CarrierAPIKey:        getEnv("CARRIER_API_KEY", ""),
		CarrierWebhookSecret: getEnv("CARRIER_WEBHOOK_SECRET", ""),
		StatusCacheTTL:       30 * time.Second,
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rateLimit, err := getEnvInt("API_RATE_LIMIT", 100)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("API_RATE_LIMIT must be > 0")
	}
	cfg.APIRateLimit = rateLimit

	if cfg.APIRateWindow, err = getEnvSeconds("API_RATE_WINDOW_SEC", 1, time.Second); err != nil {
		return AppConfig{}, err
	}
	if cfg.OutboxInterval, err = getEnvSeconds("OUTBOX_INTERVAL_SEC", 30, time.Second); err != nil {
		return AppConfig{}, err
	}
	if cfg.ExpiryInterval, err = getEnvSeconds("EXPIRY_INTERVAL_MIN", 30, time.Minute); err != nil {
		return AppConfig{}, err
	}
	if cfg.ResponseWindow, err = getEnvSeconds("RESPONSE_WINDOW_HOUR", 24, time.Hour); err != nil {
		return AppConfig{}, err
	}

	batch, err := getEnvInt("OUTBOX_BATCH", 10)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid OUTBOX_BATCH: %w", err)
	}
	if batch <= 0 {
		return AppConfig{}, fmt.Errorf("OUTBOX_BATCH must be > 0")
	}
	cfg.OutboxBatch = batch

	if cfg.CommissionPercent, err = getEnvPercent("COMMISSION_PERCENT", "10"); err != nil {
		return AppConfig{}, err
	}
	if cfg.PlatformFeePercent, err = getEnvPercent("PLATFORM_FEE_PERCENT", "5"); err != nil {
		return AppConfig{}, err
	}
	charge, err := getEnvInt("DELIVERY_CHARGE", 5000)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid DELIVERY_CHARGE: %w", err)
	}
	if charge < 0 {
		return AppConfig{}, fmt.Errorf("DELIVERY_CHARGE must be >= 0")
	}
	cfg.DeliveryCharge = int64(charge)

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.NotifyTopic == "" {
		return AppConfig{}, fmt.Errorf("NOTIFY_TOPIC must not be empty")
	}
	if cfg.NotifyStream == "" || cfg.NotifyStreamGroup == "" || cfg.NotifyStreamConsumer == "" {
		return AppConfig{}, fmt.Errorf("NOTIFY_STREAM, NOTIFY_STREAM_GROUP and NOTIFY_STREAM_CONSUMER must not be empty")
	}
	if cfg.PaymentWebhookSecret == "" {
		return AppConfig{}, fmt.Errorf("PAYMENT_WEBHOOK_SECRET must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvSeconds 读取正整数并乘以单位。
func getEnvSeconds(key string, fallback int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * unit, nil
}

// getEnvPercent 读取 [0,100) 的百分比。
func getEnvPercent(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("%s must be in [0,100)", key)
	}
	return d, nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
