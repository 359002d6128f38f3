package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. Values come from environment
// variables (CERTISCAN_ prefix) with an optional YAML file underneath.
type Config struct {
	Server struct {
		Address         string        `mapstructure:"address"`
		Port            string        `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Auth struct {
		Secret     string        `mapstructure:"secret"`
		AccessTTL  time.Duration `mapstructure:"access_ttl"`
		PublicHost string        `mapstructure:"public_host"`
	} `mapstructure:"auth"`

	RateLimit struct {
		// Backstop token bucket applied to every client before route rules.
		BackstopPerSecond int `mapstructure:"backstop_per_second"`
		BackstopBurst     int `mapstructure:"backstop_burst"`
		// Optional Redis address for shared counters in multi-process deployments.
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
	} `mapstructure:"ratelimit"`
}

// Load reads configuration from env/file with defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CERTISCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.public_host", "https://certiscan.io")

	v.SetDefault("ratelimit.backstop_per_second", 50)
	v.SetDefault("ratelimit.backstop_burst", 100)
	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)

	if cfgFile := os.Getenv("CERTISCAN_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/certiscan")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port must not be empty")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.secret must be set")
	}
	if c.Auth.AccessTTL <= 0 {
		return errors.New("auth.access_ttl must be positive")
	}
	if c.RateLimit.BackstopPerSecond <= 0 || c.RateLimit.BackstopBurst <= 0 {
		return errors.New("ratelimit backstop values must be positive")
	}
	return nil
}

// Addr joins address and port for http.Server.
func (c *Config) Addr() string {
	return c.Server.Address + ":" + c.Server.Port
}
