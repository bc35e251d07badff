// Package config loads service and CLI settings from defaults, an optional
// YAML file and TABIMPORT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, with dots in keys turned
// into underscores: storage.dsn -> TABIMPORT_STORAGE_DSN.
const EnvPrefix = "TABIMPORT"

type Config struct {
	HTTP     HTTP     `mapstructure:"http" yaml:"http"`
	Storage  Storage  `mapstructure:"storage" yaml:"storage"`
	Blob     Blob     `mapstructure:"blob" yaml:"blob"`
	Progress Progress `mapstructure:"progress" yaml:"progress"`
	Job      Job      `mapstructure:"job" yaml:"job"`
	Decoder  Decoder  `mapstructure:"decoder" yaml:"decoder"`
	Log      Log      `mapstructure:"log" yaml:"log"`
	Metrics  Metrics  `mapstructure:"metrics" yaml:"metrics"`
}

type HTTP struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
	// MaxUploadBytes caps multipart uploads.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
}

type Storage struct {
	Kind string `mapstructure:"kind" yaml:"kind" validate:"oneof=memory sqlite postgres mssql"`
	DSN  string `mapstructure:"dsn" yaml:"dsn" validate:"required_unless=Kind memory"`
}

type Blob struct {
	Kind      string `mapstructure:"kind" yaml:"kind" validate:"oneof=fs minio s3"`
	Dir       string `mapstructure:"dir" yaml:"dir" validate:"required_if=Kind fs"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Kind minio"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" validate:"required_unless=Kind fs"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

type Progress struct {
	Kind      string        `mapstructure:"kind" yaml:"kind" validate:"oneof=memory redis"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Kind redis"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

type Job struct {
	MaxProcessTime    time.Duration `mapstructure:"max_process_time" yaml:"max_process_time" validate:"gt=0"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1,max=100000"`
	PatternSampleRows int           `mapstructure:"pattern_sample_rows" yaml:"pattern_sample_rows" validate:"gte=0"`
	MaxConcurrent     int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
}

type Decoder struct {
	// Delimiter forces the CSV separator; empty sniffs it.
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter" validate:"omitempty,len=1"`
	// Charset forces the CSV text encoding (e.g. "windows-1252"); empty sniffs it.
	Charset string `mapstructure:"charset" yaml:"charset"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	// File, when set, receives a JSON copy of every log line.
	File string `mapstructure:"file" yaml:"file"`
}

type Metrics struct {
	Backend    string        `mapstructure:"backend" yaml:"backend" validate:"oneof=none datadog"`
	Tags       string        `mapstructure:"tags" yaml:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every" yaml:"flush_every" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_upload_bytes", 64<<20)

	v.SetDefault("storage.kind", "memory")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("blob.kind", "fs")
	v.SetDefault("blob.dir", "data/uploads")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.use_ssl", true)

	v.SetDefault("progress.kind", "memory")
	v.SetDefault("progress.redis_addr", "")
	v.SetDefault("progress.ttl", 24*time.Hour)

	v.SetDefault("job.max_process_time", 120*time.Second)
	v.SetDefault("job.batch_size", 1000)
	v.SetDefault("job.pattern_sample_rows", 100)
	v.SetDefault("job.max_concurrent", 4)

	v.SetDefault("decoder.delimiter", "")
	v.SetDefault("decoder.charset", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", 60*time.Second)
}

// Load reads configuration with precedence env > file > defaults.
//
// An explicit cfgFile must exist. With cfgFile empty, ./tabimport.yaml is
// read when present.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("tabimport")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Save writes c as YAML, e.g. to bootstrap a config file from defaults.
func Save(c *Config, path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DelimiterRune is the forced CSV delimiter, or 0 to sniff.
func (d Decoder) DelimiterRune() rune {
	if d.Delimiter == "" {
		return 0
	}
	return []rune(d.Delimiter)[0]
}

// SlogLevel maps Level to a slog.Level; unknown values mean info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
