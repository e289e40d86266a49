package config

import (
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Server   Server   `yaml:"server"`
	API      API      `yaml:"api"`
	Library  Library  `yaml:"library"`
	Minio    Minio    `yaml:"minio"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
}

type Server struct {
	Port string `yaml:"port"`
}

type API struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key"`
}

type Library struct {
	Path      string `yaml:"path"`
	PageSize  int    `yaml:"page_size" mapstructure:"page_size"`
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
}

func InitConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveAPIKey prefers the user-provided environment override and falls back
// to the key bundled in the config file. Empty means the process cannot run.
func (c *Config) ResolveAPIKey() string {
	if key := os.Getenv("RETRO_API_KEY"); key != "" {
		return key
	}
	return c.API.Key
}
