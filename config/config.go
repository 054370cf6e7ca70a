package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Alert     AlertConfig     `mapstructure:"alert"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
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

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// 降级生效时机
const (
	DowngradeEndOfCycle = "end_of_cycle"
	DowngradeImmediate  = "immediate"
)

type BillingConfig struct {
	RenewalAttempts      int           `mapstructure:"renewal_attempts"`       // 连续续费失败多少次后过期
	RetryInterval        time.Duration `mapstructure:"retry_interval"`         // past_due 重试间隔
	ChargeTimeout        time.Duration `mapstructure:"charge_timeout"`         // 外部扣款/退款超时
	LockTTL              time.Duration `mapstructure:"lock_ttl"`               // 订阅行锁最长持有时间
	ConflictRetries      int           `mapstructure:"conflict_retries"`       // 并发冲突重试次数
	DowngradeTiming      string        `mapstructure:"downgrade_timing"`       // end_of_cycle, immediate
	ProrateDowngrades    bool          `mapstructure:"prorate_downgrades"`     // 立即降级时是否按比例返还
	CancelOnFullRefund   *bool         `mapstructure:"cancel_on_full_refund"`  // 全额退款后是否立即取消，未配置时为 true
	ConvertMissingPrices bool          `mapstructure:"convert_missing_prices"` // 套餐缺少该币种价格时是否换汇
	SweepBatchSize       int           `mapstructure:"sweep_batch_size"`
	StaleReservation     time.Duration `mapstructure:"stale_reservation"` // 对账：预留超过多久视为悬挂
	CatalogCacheTTL      time.Duration `mapstructure:"catalog_cache_ttl"`
}

type CurrencyConfig struct {
	Default   string            `mapstructure:"default"`
	Precision map[string]int    `mapstructure:"precision"` // 币种 -> 最小单位位数
	Rates     map[string]string `mapstructure:"rates"`     // "USD:EUR" -> "0.92"
}

type SchedulerConfig struct {
	Spec          string `mapstructure:"spec"`           // 到期扫描的 cron 表达式
	ReconcileSpec string `mapstructure:"reconcile_spec"` // 对账的 cron 表达式
	QueueName     string `mapstructure:"queue_name"`
	MaxWorkers    int    `mapstructure:"max_workers"`
	UseQueue      bool   `mapstructure:"use_queue"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type AlertConfig struct {
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ApplyDefaults 为未配置的项填充默认值
func (c *Config) ApplyDefaults() {
	b := &c.Billing
	if b.RenewalAttempts <= 0 {
		b.RenewalAttempts = 3
	}
	if b.RetryInterval <= 0 {
		b.RetryInterval = 24 * time.Hour
	}
	if b.ChargeTimeout <= 0 {
		b.ChargeTimeout = 10 * time.Second
	}
	if b.LockTTL <= 0 {
		b.LockTTL = 2 * time.Minute
	}
	if b.ConflictRetries <= 0 {
		b.ConflictRetries = 5
	}
	if b.CancelOnFullRefund == nil {
		cancel := true
		b.CancelOnFullRefund = &cancel
	}
	if b.DowngradeTiming == "" {
		b.DowngradeTiming = DowngradeEndOfCycle
	}
	if b.SweepBatchSize <= 0 {
		b.SweepBatchSize = 100
	}
	if b.StaleReservation <= 0 {
		b.StaleReservation = 15 * time.Minute
	}
	if b.CatalogCacheTTL <= 0 {
		b.CatalogCacheTTL = 30 * time.Second
	}

	if c.Currency.Default == "" {
		c.Currency.Default = "USD"
	}

	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "@every 1m"
	}
	if c.Scheduler.ReconcileSpec == "" {
		c.Scheduler.ReconcileSpec = "@every 10m"
	}
	if c.Scheduler.QueueName == "" {
		c.Scheduler.QueueName = "billing:renewals"
	}
	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = 4
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}
