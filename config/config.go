package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "ICE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Liveness   LivenessConfig   `mapstructure:"liveness"`
	Events     EventsConfig     `mapstructure:"events"`
	ONVIF      ONVIFConfig      `mapstructure:"onvif"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	AMQP       AMQPConfig       `mapstructure:"amqp"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Armed      bool             `mapstructure:"armed"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" validate:"required"`
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

type LivenessConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	InvalidThreshold time.Duration `mapstructure:"invalid_threshold" validate:"gt=0"`
	DeleteThreshold  time.Duration `mapstructure:"delete_threshold" validate:"gtfield=InvalidThreshold"`
}

type EventsConfig struct {
	ValidityWindow time.Duration `mapstructure:"validity_window" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	DedupTypes     []string      `mapstructure:"dedup_types"`
	DedupNames     []string      `mapstructure:"dedup_names"`
	SeenIDs        int           `mapstructure:"seen_ids" validate:"min=1"`
	MaxHistory     int           `mapstructure:"max_history" validate:"min=1"`
}

type ONVIFConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port" validate:"min=1,max=65535"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	SubscriptionTime time.Duration `mapstructure:"subscription_time" validate:"gt=0"`
	PullTimeout      time.Duration `mapstructure:"pull_timeout" validate:"gt=0"`
	MessageLimit     int           `mapstructure:"message_limit" validate:"min=1"`
	RestartDelay     time.Duration `mapstructure:"restart_delay" validate:"gt=0"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
}

// Enabled reports whether the camera adapter should run.
func (o ONVIFConfig) Enabled() bool { return o.Host != "" }

type WebhookConfig struct {
	URL           string            `mapstructure:"url" validate:"omitempty,url"`
	Method        string            `mapstructure:"method" validate:"oneof=GET POST get post"`
	Headers       map[string]string `mapstructure:"headers"`
	Data          any               `mapstructure:"data"`
	OnIgnored     bool              `mapstructure:"on_ignored"`
	OnEventType   []string          `mapstructure:"on_event_type"`
	OnEventSource []string          `mapstructure:"on_event_source"`
	Timeout       time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	MinInterval   time.Duration     `mapstructure:"min_interval" validate:"min=0"`
}

// Enabled reports whether accepted events trigger the webhook.
func (w WebhookConfig) Enabled() bool { return w.URL != "" }

type AMQPConfig struct {
	URL          string `mapstructure:"url"`
	IngressTopic string `mapstructure:"ingress_topic" validate:"required"`
	MirrorTopic  string `mapstructure:"mirror_topic" validate:"required"`
}

// Enabled reports whether the broker ingress and mirror are wired.
func (a AMQPConfig) Enabled() bool { return a.URL != "" }

type ConnectionConfig struct {
	SendBuffer  int           `mapstructure:"send_buffer" validate:"min=1"`
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
}

// TracingConfig selects where arbitration and HTTP spans are exported.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"min=0,max=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("liveness.sweep_interval", 100*time.Millisecond)
	v.SetDefault("liveness.invalid_threshold", 2*time.Second)
	v.SetDefault("liveness.delete_threshold", 30*time.Second)

	v.SetDefault("events.validity_window", 15*time.Second)
	v.SetDefault("events.sweep_interval", 100*time.Millisecond)
	v.SetDefault("events.dedup_types", []string{"onvif"})
	v.SetDefault("events.dedup_names", []string{})
	v.SetDefault("events.seen_ids", 4096)
	v.SetDefault("events.max_history", 1024)

	v.SetDefault("onvif.host", "")
	v.SetDefault("onvif.port", 80)
	v.SetDefault("onvif.username", "")
	v.SetDefault("onvif.password", "")
	v.SetDefault("onvif.subscription_time", 10*time.Minute)
	v.SetDefault("onvif.pull_timeout", time.Second)
	v.SetDefault("onvif.message_limit", 100)
	v.SetDefault("onvif.restart_delay", time.Second)
	v.SetDefault("onvif.retry_delay", time.Second)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.method", "GET")
	v.SetDefault("webhook.on_ignored", false)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.min_interval", time.Duration(0))

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.ingress_topic", "ice.events.inbound")
	v.SetDefault("amqp.mirror_topic", "ice.events.accepted")

	v.SetDefault("connection.send_buffer", 256)
	v.SetDefault("connection.send_timeout", 500*time.Millisecond)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("armed", false)
}

// New builds the viper instance: defaults, optional file, ICE_* environment overrides.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadConfig reads and validates the configuration.
func LoadConfig(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals the current viper state and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Webhook.Method = strings.ToUpper(cfg.Webhook.Method)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid field by its struct path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("config: %s failed on '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("config: %w", err)
}
