package config

import (
	"os"
	"strings"
)

type Config struct {
	Region      string // AWS region
	NotifyURL   string // webhook for bake notifications
	DatabaseURL string // Postgres for the saga log, optional
	ListenAddr  string // hub listener, empty disables it
	HubSecret   string // signs watch tokens, empty leaves the hub open

	AllowedOrigins []string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Bucket    string
}

func Load() *Config {
	return &Config{
		Region:      envOr("ABBEY_REGION", envOr("AWS_REGION", "us-east-1")),
		NotifyURL:   os.Getenv("ABBEY_NOTIFY_URL"),
		DatabaseURL: os.Getenv("ABBEY_DATABASE_URL"),
		ListenAddr:  os.Getenv("ABBEY_LISTEN_ADDR"),
		HubSecret:   os.Getenv("ABBEY_HUB_SECRET"),

		AllowedOrigins: splitList(os.Getenv("ABBEY_ALLOWED_ORIGINS")),

		S3Endpoint:  os.Getenv("ABBEY_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("ABBEY_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("ABBEY_S3_SECRET_KEY"),
		S3Region:    envOr("ABBEY_S3_REGION", "us-east-1"),
		S3UseSSL:    os.Getenv("ABBEY_S3_USE_SSL") != "false",
		S3Bucket:    os.Getenv("ABBEY_S3_BUCKET"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
