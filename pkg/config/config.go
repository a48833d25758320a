package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MinSecretLength is the shortest accepted QR signing secret.
const MinSecretLength = 32

var ErrMissingSecret = errors.New("qr secret key not configured: set QR_SECRET_KEY")

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
		Metrics struct {
			Enable bool   `mapstructure:"ENABLE"`
			Port   uint32 `mapstructure:"PORT"`
		} `mapstructure:"METRICS"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Snowflake struct {
		Node int64 `mapstructure:"NODE"`
	} `mapstructure:"SNOWFLAKE"`
	JWT struct {
		Secret string `mapstructure:"SECRET"`
	} `mapstructure:"JWT"`
	QR struct {
		SecretKey               string        `mapstructure:"SECRET_KEY"`
		MaxVerificationsPerHour int           `mapstructure:"MAX_VERIFICATIONS_PER_HOUR"`
		RateWindow              time.Duration `mapstructure:"RATE_WINDOW"`
		TemporaryValidityHours  int           `mapstructure:"TEMPORARY_VALIDITY_HOURS"`
		SweepInterval           time.Duration `mapstructure:"SWEEP_INTERVAL"`
		SweepGrace              time.Duration `mapstructure:"SWEEP_GRACE"`
	} `mapstructure:"QR"`
	Vault struct {
		MountPath string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) (*Config, error) {
	cfg, err := Load(viper.New(), ".")
	if err != nil {
		return nil, err
	}

	if p.Vault != nil {
		if err := cfg.applyVault(context.Background(), p.Vault); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Load reads config.yaml from dir (optional) and the environment.
func Load(v *viper.Viper, dir string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zap.L().Info("no config file found, using environment and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "parcelqr")
	v.SetDefault("APP_VERSION", "dev")

	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")

	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "parcelqr")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("DATABASE.METRICS.ENABLE", false)
	v.SetDefault("DATABASE.METRICS.PORT", 9091)

	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)

	v.SetDefault("SNOWFLAKE.NODE", 1)
	v.SetDefault("JWT.SECRET", "")

	v.SetDefault("QR.SECRET_KEY", "")
	v.SetDefault("QR.MAX_VERIFICATIONS_PER_HOUR", 100)
	v.SetDefault("QR.RATE_WINDOW", time.Hour)
	v.SetDefault("QR.TEMPORARY_VALIDITY_HOURS", 48)
	v.SetDefault("QR.SWEEP_INTERVAL", time.Hour)
	v.SetDefault("QR.SWEEP_GRACE", 7*24*time.Hour)

	v.SetDefault("VAULT.MOUNT_PATH", "secret")
}

func (c *Config) applyVault(ctx context.Context, client *vault.Client) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", c.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, c.AppEnv, vault.WithMountPath(c.Vault.MountPath))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("read vault secrets: %w", err)
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	c.Database.User = get("postgres_user", c.Database.User)
	c.Database.Password = get("postgres_password", c.Database.Password)
	c.Redis.Password = get("redis_password", c.Redis.Password)
	c.JWT.Secret = get("jwt_secret", c.JWT.Secret)
	c.QR.SecretKey = get("qr_secret_key", c.QR.SecretKey)

	return nil
}

// QRSecret returns the signing secret, falling back to the JWT secret when
// no dedicated QR key is configured.
func (c *Config) QRSecret() (string, error) {
	secret := c.QR.SecretKey
	if strings.TrimSpace(secret) == "" {
		if strings.TrimSpace(c.JWT.Secret) == "" {
			return "", ErrMissingSecret
		}
		zap.L().Warn("QR secret key not configured; falling back to JWT secret. Set QR_SECRET_KEY for explicit key separation.")
		secret = c.JWT.Secret
	}

	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("qr secret key must be at least %d characters", MinSecretLength)
	}

	return secret, nil
}
