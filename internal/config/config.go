// Package config loads the orchestrator's YAML configuration file.
// Grounded on the teacher's internal/infra/config packages: same
// MustLoad-with-fatal-validation shape, same nested per-dependency
// sub-structs.
package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	DataRoot string `yaml:"data_root"`

	Scheduler Scheduler `yaml:"scheduler"`
	GPU       GPU       `yaml:"gpu"`
	Steps     Steps     `yaml:"steps"`
	TTS       TTS       `yaml:"tts"`
	Anchor    Anchor    `yaml:"anchor"`

	MaxUploadBytesMb int64 `yaml:"max_upload_mb"`

	Redis    Redis    `yaml:"redis"`
	MinIO    MinIO    `yaml:"minio"`
	NATS     NATS     `yaml:"nats"`
}

type Scheduler struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

type GPU struct {
	Permits int `yaml:"permits"`
}

// Steps holds the per-step wall-clock timeouts, named after what each
// step does rather than its number.
type Steps struct {
	CloneTimeout     time.Duration `yaml:"clone_timeout"`
	TrimTimeout      time.Duration `yaml:"trim_timeout"`
	SequenceTimeout  time.Duration `yaml:"sequence_timeout"`
	AlignTimeout     time.Duration `yaml:"align_timeout"`
	TrimMaxParallel  int           `yaml:"trim_max_parallel"`
	AlignMaxParallel int           `yaml:"align_max_parallel"`
}

type TTS struct {
	HelperPath     string `yaml:"helper_path"`
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
}

type Anchor struct {
	Path string `yaml:"path"`
}

type Redis struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	QueueCapacity   int    `yaml:"queue_capacity"`
	WorkerNum       int    `yaml:"worker_num"`
	MaxRetries      int    `yaml:"max_retries"`
}

type NATS struct {
	URL           string `yaml:"url"`
	ClientName    string `yaml:"client_name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.DataRoot == "" {
		log.Fatalf("config: data_root is empty")
	}
	if cfg.TTS.HelperPath == "" {
		log.Fatalf("config: tts.helper_path is empty")
	}
	if cfg.Anchor.Path == "" {
		log.Fatalf("config: anchor.path is empty")
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 200
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 5
	}
	if cfg.Scheduler.QueueDepth <= 0 {
		cfg.Scheduler.QueueDepth = 64
	}
	if cfg.GPU.Permits <= 0 {
		cfg.GPU.Permits = 1
	}
	if cfg.Steps.CloneTimeout <= 0 {
		cfg.Steps.CloneTimeout = 30 * time.Minute
	}
	if cfg.Steps.TrimTimeout <= 0 {
		cfg.Steps.TrimTimeout = 5 * time.Minute
	}
	if cfg.Steps.SequenceTimeout <= 0 {
		cfg.Steps.SequenceTimeout = 2 * time.Minute
	}
	if cfg.Steps.AlignTimeout <= 0 {
		cfg.Steps.AlignTimeout = 10 * time.Minute
	}
	if cfg.Steps.TrimMaxParallel <= 0 {
		cfg.Steps.TrimMaxParallel = 4
	}
	if cfg.Steps.AlignMaxParallel <= 0 {
		cfg.Steps.AlignMaxParallel = 4
	}
	if cfg.TTS.TimeoutSeconds <= 0 {
		cfg.TTS.TimeoutSeconds = 120
	}
	if cfg.Redis.EmbedCacheTTL <= 0 {
		cfg.Redis.EmbedCacheTTL = 24 * time.Hour
	}
	if cfg.MinIO.QueueCapacity <= 0 {
		cfg.MinIO.QueueCapacity = 100
	}
	if cfg.MinIO.WorkerNum <= 0 {
		cfg.MinIO.WorkerNum = 2
	}
	if cfg.MinIO.MaxRetries <= 0 {
		cfg.MinIO.MaxRetries = 3
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "audiostory.task.events"
	}

	return &cfg
}
