// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	// チェーン・リレイヤー
	RPCURL             string
	FhevmSDKCDN        string
	DeploymentsFile    string
	SignerKey          string
	SignerKeyEncrypted string
	ChainPollInterval  time.Duration

	// OpenTelemetry
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		RPCURL:             getEnv("RPC_URL", "https://ethereum-sepolia-rpc.publicnode.com"),
		FhevmSDKCDN:        os.Getenv("FHEVM_SDK_CDN"),
		DeploymentsFile:    os.Getenv("DEPLOYMENTS_FILE"),
		SignerKey:          os.Getenv("SIGNER_KEY"),
		SignerKeyEncrypted: os.Getenv("SIGNER_KEY_CIPHERTEXT"),
		ChainPollInterval:  getDuration("CHAIN_POLL_INTERVAL", 15*time.Second),

		OtelEnabled:      getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "salon-gateway"),
		OtelSamplingRate: getFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return defaultVal
	}
	return f
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
