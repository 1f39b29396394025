package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	StoreID                string
	AuthSecret             string
	AccessTokenTTLMinutes  int
	HeartbeatStaleMinutes  int
	LivenessSweepSeconds   int
	ShutdownDedupMinutes   int
	XReportCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	staleMinutes := getEnvInt("HEARTBEAT_STALE_MINUTES", 15)
	sweepSeconds := getEnvInt("LIVENESS_SWEEP_SECONDS", 120)
	dedupMinutes := getEnvInt("SHUTDOWN_EVENT_DEDUP_MINUTES", 5)
	xreportTTL := getEnvInt("XREPORT_CACHE_TTL_SECONDS", 15)

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		StoreID:                getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		HeartbeatStaleMinutes:  staleMinutes,
		LivenessSweepSeconds:   sweepSeconds,
		ShutdownDedupMinutes:   dedupMinutes,
		XReportCacheTTLSeconds: xreportTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
