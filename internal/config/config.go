package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultQuizDuration     = 900 * time.Second
	DefaultTick             = time.Second
	DefaultQuestionCount    = 35
	DefaultAnalyticsTimeout = 5 * time.Second
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Quiz struct {
		TTL              string `yaml:"ttl"`
		Duration         string `yaml:"duration"`
		Tick             string `yaml:"tick"`
		QuestionCount    int    `yaml:"question_count"`
		AnalyticsTimeout string `yaml:"analytics_timeout"`
		BankPath         string `yaml:"bank_path"`
	} `yaml:"quiz"`
	Analytics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"analytics"`
	Certificate struct {
		FontPath string `yaml:"font_path"`
	} `yaml:"certificate"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// QuestionCount returns the configured battery size, defaulting to 35.
func (c Config) QuestionCount() int {
	if c.Quiz.QuestionCount <= 0 {
		return DefaultQuestionCount
	}
	return c.Quiz.QuestionCount
}
