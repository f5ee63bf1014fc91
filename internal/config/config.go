package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// TCPConfig 板卡网关配置
type TCPConfig struct {
	Addr         string        `mapstructure:"addr"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	RatePerSec   int           `mapstructure:"ratePerSec"`
	Burst        int           `mapstructure:"burst"`
	MaxConns     int           `mapstructure:"maxConns"`
}

// DataConfig 数据目录配置
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// SchedulerConfig 外部计划任务表配置
type SchedulerConfig struct {
	Enable        bool          `mapstructure:"enable"`
	User          string        `mapstructure:"user"`
	Tag           string        `mapstructure:"tag"`
	CallbackURL   string        `mapstructure:"callbackUrl"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SelfUpdate    bool          `mapstructure:"selfUpdate"`
	UpdateCommand string        `mapstructure:"updateCommand"`
}

// TelegramConfig 告警推送配置
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID string `mapstructure:"chatId"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	TCP       TCPConfig       `mapstructure:"tcp"`
	Data      DataConfig      `mapstructure:"data"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Load 从 YAML 文件与环境变量加载配置。
// 若 path 为空，则尝试环境变量 TCHUB_CONFIG；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("TCHUB_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 TCHUB_，点号替换为下划线
	v.SetEnvPrefix("TCHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// 配置文件里的空值会盖掉默认值，数据目录为空时回退，
	// 否则启动时 MkdirAll("") 必然失败
	if cfg.Data.Dir == "" {
		home, _ := os.UserHomeDir()
		cfg.Data.Dir = filepath.Join(home, "tchub-data")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tchub")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "0s") // SSE 直播流不设写超时

	v.SetDefault("tcp.addr", ":7000")
	v.SetDefault("tcp.idleTimeout", "5m")
	v.SetDefault("tcp.writeTimeout", "10s")
	v.SetDefault("tcp.ratePerSec", 50)
	v.SetDefault("tcp.burst", 100)
	v.SetDefault("tcp.maxConns", 256)

	home, _ := os.UserHomeDir()
	v.SetDefault("data.dir", filepath.Join(home, "tchub-data"))

	v.SetDefault("scheduler.enable", true)
	v.SetDefault("scheduler.user", "")
	v.SetDefault("scheduler.tag", "tchub")
	v.SetDefault("scheduler.callbackUrl", "http://localhost:8080")
	v.SetDefault("scheduler.timeout", "10s")
	v.SetDefault("scheduler.selfUpdate", false)
	v.SetDefault("scheduler.updateCommand", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chatId", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/tchub.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
