package config

import (
	"os"
	"strings"
)

type Config struct {
	MongoURI      string
	MongoDatabase string
	RedisAddr     string

	QueryBaseURL   string
	QueryJWTSecret string `json:"-"`
	FeedURL        string

	// Questionnaire slugs warmed at startup
	Questionnaires []string
}

func Load() *Config {
	return &Config{
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "formsight"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		QueryBaseURL:   getEnv("QUERY_BASE_URL", "http://localhost:8080"),
		QueryJWTSecret: getEnv("QUERY_JWT_SECRET", "dev-secret-change-in-production"),
		FeedURL:        getEnv("FEED_URL", "ws://localhost:8081/v1/events"),
		Questionnaires: splitList(getEnv("QUESTIONNAIRE_SLUGS", "")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
