package config

import (
	"fmt"
	"strings"

	"swap-notify/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config 定义整个配置的结构
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Rpc      RpcConfig      `mapstructure:"rpc"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Store    StoreConfig    `mapstructure:"store"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Token    TokenConfig    `mapstructure:"token"`
	Pools    []PoolConfig   `mapstructure:"pools"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
}

// LogConfig Log 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RpcConfig 链上节点配置
type RpcConfig struct {
	WssURL  string `mapstructure:"wss_url"`
	Timeout int    `mapstructure:"timeout"`
}

// TelegramConfig Telegram Bot 配置
type TelegramConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	BotToken   string `mapstructure:"bot_token"`
	ChannelID  string `mapstructure:"channel_id"`
	MediaURL   string `mapstructure:"media_url"` // 可选，每则通知附带的宣传图
	RateLimit  int    `mapstructure:"rate_limit"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// StoreConfig 事件落盘配置
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type MonitorConfig struct {
	Enable         bool   `mapstructure:"enable"`
	PrometheusAddr string `mapstructure:"prometheus_addr"`
}

// TokenConfig 追踪代币配置
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// PoolConfig 单个池子的配置，tracked_side 指定追踪币在 token0/token1 的哪一侧
type PoolConfig struct {
	Address     string `mapstructure:"address"`
	Label       string `mapstructure:"label"`
	TrackedSide int    `mapstructure:"tracked_side"` // 0 或 1
	QuoteSymbol string `mapstructure:"quote_symbol"`
	Decimals0   uint8  `mapstructure:"decimals0"`
	Decimals1   uint8  `mapstructure:"decimals1"`
}

type WatcherConfig struct {
	ReconnectBaseMs int `mapstructure:"reconnect_base_ms"`
	ReconnectMaxMs  int `mapstructure:"reconnect_max_ms"`
	SupplyCacheSec  int `mapstructure:"supply_cache_sec"`
	ShutdownGraceMs int `mapstructure:"shutdown_grace_ms"`
}

func InitConfig() Config {
	var config Config

	viper.SetConfigName("config.watcher")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config/")

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	if err := mapstructure.Decode(viper.AllSettings(), &config); err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}

	return config
}

// Validate 检查池子配置是否完整
func (c *Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("no pools configured")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for i, p := range c.Pools {
		if p.Address == "" {
			return fmt.Errorf("pool[%d]: empty address", i)
		}
		if p.TrackedSide != 0 && p.TrackedSide != 1 {
			return fmt.Errorf("pool[%d] %s: tracked_side must be 0 or 1", i, p.Address)
		}
		key := strings.ToLower(p.Address)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("pool[%d] %s: duplicate pool address", i, p.Address)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// PoolByID 按池子地址（大小写不敏感）查找配置，未配置的池子返回 false
func (c *Config) PoolByID(address string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if strings.EqualFold(p.Address, address) {
			return p, true
		}
	}
	return PoolConfig{}, false
}

func WatchConfig(config *Config) {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := InitConfig()
		*config = newConfig
		logger.SetLogLevel(config.Log.Level)
	})
}
