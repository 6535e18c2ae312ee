package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransferCreated  string `mapstructure:"transfer_created"`
	TimeoutRequested string `mapstructure:"timeout_requested"`
	TimeoutExpired   string `mapstructure:"timeout_expired"`
}

// BusinessConfig 业务参数
type BusinessConfig struct {
	MinPoints              int64 `mapstructure:"min_points"`               // 单笔最小积分（绝对值）
	MaxPoints              int64 `mapstructure:"max_points"`               // 单笔最大积分（绝对值）
	MaxMessageLength       int   `mapstructure:"max_message_length"`       // 附言最大长度
	TimeoutDurationMinutes int   `mapstructure:"timeout_duration_minutes"` // 冷静期时长（分钟）
	MaxTimeoutsPerDay      int64 `mapstructure:"max_timeouts_per_day"`     // 每人每日冷静期配额
	SweepIntervalSeconds   int   `mapstructure:"sweep_interval_seconds"`   // 对账扫描间隔（秒）
	MaxBalanceRetries      int   `mapstructure:"max_balance_retries"`      // 余额乐观锁重试上限
	MaxRetryCount          int   `mapstructure:"max_retry_count"`          // outbox 消息最大重试次数
}

// TimeoutDuration 冷静期时长
func (b *BusinessConfig) TimeoutDuration() time.Duration {
	return time.Duration(b.TimeoutDurationMinutes) * time.Minute
}

// SweepInterval 对账扫描间隔
func (b *BusinessConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalSeconds) * time.Second
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

// DefaultBusiness 业务参数默认值
// 配置文件缺省或测试场景使用
func DefaultBusiness() BusinessConfig {
	return BusinessConfig{
		MinPoints:              1,
		MaxPoints:              10,
		MaxMessageLength:       200,
		TimeoutDurationMinutes: 30,
		MaxTimeoutsPerDay:      1,
		SweepIntervalSeconds:   30,
		MaxBalanceRetries:      3,
		MaxRetryCount:          5,
	}
}
