package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"PORT" envDefault:"5000"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	APIBasePath string `env:"API_BASE_PATH"`

	StoreDriver   string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	RunMigrations bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string        `env:"REDIS_PREFIX" envDefault:"carrental:"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"168h"`

	BcryptCost       int    `env:"BCRYPT_COST" envDefault:"10"`
	OTPTTLMinutes    int    `env:"OTP_TTL_MINUTES" envDefault:"10"`
	OTPLength        int    `env:"OTP_LENGTH" envDefault:"6"`
	OTPSweepSchedule string `env:"OTP_SWEEP_SCHEDULE" envDefault:"@every 15m"`

	FrontendOrigins []string `env:"FRONTEND_ORIGIN" envSeparator:"," envDefault:"http://localhost:5173"`

	SMTPConfig

	NotifyAsync     bool          `env:"NOTIFY_ASYNC" envDefault:"true"`
	NotifyWorkers   int           `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyQueueSize int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"64"`
	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

// SMTPConfig agrupa las credenciales del servidor de correo.
type SMTPConfig struct {
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa reglas que dependen de mas de un campo.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.OTPTTLMinutes <= 0 {
		errs = append(errs, errors.New("OTP_TTL_MINUTES must be positive"))
	}
	if c.OTPLength < 4 || c.OTPLength > 12 {
		errs = append(errs, errors.New("OTP_LENGTH must be between 4 and 12"))
	}
	if c.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	}
	if c.NotifyWorkers <= 0 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// OTPTTL devuelve la vigencia de los codigos de reseteo.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
}

// IsDevelopment habilita logging de desarrollo.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// LoadSMTPConfig carga solo la configuracion de correo, para herramientas
// que no levantan el servidor.
func LoadSMTPConfig() (*SMTPConfig, error) {
	var cfg SMTPConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SMTPEnabled indica si hay un servidor de correo configurado.
func (c *SMTPConfig) SMTPEnabled() bool {
	return strings.TrimSpace(c.SMTPHost) != ""
}
