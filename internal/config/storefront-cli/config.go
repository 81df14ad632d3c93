package storefront_cli_config

import (
	"time"

	"github.com/NordCoder/Storefront/internal/obs"
	pginfra "github.com/NordCoder/Storefront/internal/repository/postgres"
	redisinfra "github.com/NordCoder/Storefront/internal/repository/redis"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type API struct {
	BaseURL string `mapstructure:"base_url"`
}

type Auth struct {
	LoginPath    string        `mapstructure:"login_path"`
	RefreshPath  string        `mapstructure:"refresh_path"`
	LogoutPath   string        `mapstructure:"logout_path"`
	RenewTimeout time.Duration `mapstructure:"renew_timeout"`
}

type HTTP struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	VerifyTLS       bool          `mapstructure:"verify_tls"`
}

type FileStore struct {
	Path string `mapstructure:"path"`
}

type Store struct {
	Driver  string            `mapstructure:"driver"`
	Profile string            `mapstructure:"profile"`
	File    FileStore         `mapstructure:"file"`
	Redis   redisinfra.Config `mapstructure:"redis"`
	DB      pginfra.Config    `mapstructure:"db"`
}

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Events struct {
	Enable    bool     `mapstructure:"enable"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	App    App    `mapstructure:"app"`
	API    API    `mapstructure:"api"`
	Auth   Auth   `mapstructure:"auth"`
	HTTP   HTTP   `mapstructure:"http"`
	Store  Store  `mapstructure:"store"`
	Events Events `mapstructure:"events"`
	Server Server `mapstructure:"server"`
	OTEL   OTEL   `mapstructure:"otel"`
	Log    Log    `mapstructure:"log"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
