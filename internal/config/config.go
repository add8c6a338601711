// Package config loads the environment-driven settings in spec.md §6,
// following the teacher's getEnv()/getenv() pair, built on
// github.com/spf13/viper: each setting comes from its environment
// variable, falling back to a built-in default. No config file is read.
package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ExtractorConfig holds everything the Extractor service needs to boot.
type ExtractorConfig struct {
	BucketName  string
	RawPrefix   string
	SourceURL   string
	TriggerURL  string
	MinioEndpoint string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL bool
	HTTPPort    string
	LogFile     string
}

// TriggerConfig holds everything the Trigger service needs to boot.
type TriggerConfig struct {
	ServiceConfigB64 string
	EnableJSONLoader bool
	DurationsDir     string
	HTTPPort         string
	LogFile          string
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func getString(v *viper.Viper, key, def string) string {
	v.SetDefault(key, def)
	return v.GetString(key)
}

// LoadExtractorConfig reads BUCKET_NAME, SOURCE_URL, TRIGGER_URL, and
// MinIO connection settings from the environment.
func LoadExtractorConfig() ExtractorConfig {
	v := newViper("")
	return ExtractorConfig{
		BucketName:     getString(v, "BUCKET_NAME", "raw-data-bucket"),
		RawPrefix:      getString(v, "RAW_PREFIX", "raw-data"),
		SourceURL:      getString(v, "SOURCE_URL", "https://data.cityofchicago.org/resource/qizy-d2wf.json"),
		TriggerURL:     getString(v, "TRIGGER_URL", ""),
		MinioEndpoint:  getString(v, "MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getString(v, "MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getString(v, "MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:    strings.EqualFold(getString(v, "MINIO_SSL", "false"), "true"),
		HTTPPort:       getString(v, "EXTRACTOR_PORT", "8080"),
		LogFile:        getString(v, "LOG_FILE", ""),
	}
}

// LoadTriggerConfig reads SERVICE_CONFIG_B64 and the JSON-loader-branch
// toggle from the environment.
func LoadTriggerConfig() TriggerConfig {
	v := newViper("")
	return TriggerConfig{
		ServiceConfigB64: getString(v, "SERVICE_CONFIG_B64", ""),
		EnableJSONLoader: strings.EqualFold(getString(v, "ENABLE_JSON_LOADER", "false"), "true"),
		DurationsDir:     getString(v, "DURATIONS_DIR", "logs"),
		HTTPPort:         getString(v, "TRIGGER_PORT", "8080"),
		LogFile:          getString(v, "LOG_FILE", ""),
	}
}

// ParsePort converts a configured HTTP port string to an integer,
// returning an error if it is not numeric.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
