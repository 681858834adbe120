package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigFileName is the JSON file looked up in the config directory.
const ConfigFileName = "parkd.cfg.json"

// EnvPrefix is prepended to environment overrides, e.g. PARKD_STORAGE_TYPE.
const EnvPrefix = "PARKD"

// MemoryConfig holds JSON-file storage backend settings
type MemoryConfig struct {
	Path     string `json:"path" mapstructure:"path"`
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds connection settings for the postgres backend
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN renders the libpq style connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// StorageConfig selects and configures the location store
type StorageConfig struct {
	Type     string
	Memory   MemoryConfig
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// SyncConfig holds address reconciliation timings
type SyncConfig struct {
	Throttle      time.Duration
	RequestDelay  time.Duration
	TriggerDelay  time.Duration
	RetrySchedule string
}

// TimerConfig holds reminder timer settings
type TimerConfig struct {
	SweepSchedule string
}

// GeocoderConfig holds reverse geocoding client settings
type GeocoderConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Language  string
}

// ConnectivityConfig holds connectivity probe settings
type ConnectivityConfig struct {
	Probe         bool
	ProbeInterval time.Duration
}

// InfluxConfig holds parking history metrics settings
type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// KafkaConfig holds lifecycle event publishing settings
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Schedule  string
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Address string
}

// NotifyConfig holds push notification settings
type NotifyConfig struct {
	FCMEnabled         bool
	FCMCredentialsFile string
	FCMTokens          []string
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// LoadEnv loads a .env file from dir if present. A missing file is not an error.
func LoadEnv(dir string) error {
	path := ".env"
	if dir != "" {
		path = strings.TrimRight(dir, "/") + "/.env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.path", "./data/locations.json")
	viper.SetDefault("storage.memory.compress", false)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./data/locations.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "parkspot")

	viper.SetDefault("sync.throttle", "5s")
	viper.SetDefault("sync.requestDelay", "800ms")
	viper.SetDefault("sync.triggerDelay", "2s")
	viper.SetDefault("sync.retrySchedule", "@every 15m")

	viper.SetDefault("timer.sweepSchedule", "@every 1m")

	viper.SetDefault("geocoder.baseUrl", "https://nominatim.openstreetmap.org")
	viper.SetDefault("geocoder.userAgent", "parkspot/1.0")
	viper.SetDefault("geocoder.timeout", "10s")
	viper.SetDefault("geocoder.language", "en")

	viper.SetDefault("connectivity.probe", true)
	viper.SetDefault("connectivity.probeInterval", "30s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "parkspot")
	viper.SetDefault("influx.bucket", "parking_history")
	viper.SetDefault("influx.backupPath", "./data/influx_backup.lp.gz")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "parking-events")

	viper.SetDefault("backup.enabled", false)
	viper.SetDefault("backup.endpoint", "")
	viper.SetDefault("backup.accessKey", "")
	viper.SetDefault("backup.secretKey", "")
	viper.SetDefault("backup.bucket", "parkspot-backups")
	viper.SetDefault("backup.useSSL", true)
	viper.SetDefault("backup.schedule", "@every 6h")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "parkd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("server.address", ":8080")

	viper.SetDefault("notify.fcm.enabled", false)
	viper.SetDefault("notify.fcm.credentialsFile", "")
	viper.SetDefault("notify.fcm.tokens", []string{})
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the location store configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: strings.ToLower(viper.GetString("storage.type")),
		Memory: MemoryConfig{
			Path:     viper.GetString("storage.memory.path"),
			Compress: viper.GetBool("storage.memory.compress"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetSyncConfig returns the reconciliation timings.
func GetSyncConfig() SyncConfig {
	return SyncConfig{
		Throttle:      viper.GetDuration("sync.throttle"),
		RequestDelay:  viper.GetDuration("sync.requestDelay"),
		TriggerDelay:  viper.GetDuration("sync.triggerDelay"),
		RetrySchedule: viper.GetString("sync.retrySchedule"),
	}
}

// GetTimerConfig returns the reminder timer configuration.
func GetTimerConfig() TimerConfig {
	return TimerConfig{SweepSchedule: viper.GetString("timer.sweepSchedule")}
}

// GetGeocoderConfig returns the reverse geocoder configuration.
func GetGeocoderConfig() GeocoderConfig {
	return GeocoderConfig{
		BaseURL:   viper.GetString("geocoder.baseUrl"),
		UserAgent: viper.GetString("geocoder.userAgent"),
		Timeout:   viper.GetDuration("geocoder.timeout"),
		Language:  viper.GetString("geocoder.language"),
	}
}

// GetConnectivityConfig returns the connectivity probe configuration.
func GetConnectivityConfig() ConnectivityConfig {
	return ConnectivityConfig{
		Probe:         viper.GetBool("connectivity.probe"),
		ProbeInterval: viper.GetDuration("connectivity.probeInterval"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	url := fmt.Sprintf("%s://%s:%s",
		viper.GetString("influx.protocol"),
		viper.GetString("influx.host"),
		viper.GetString("influx.port"),
	)
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        url,
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetKafkaConfig returns the event publishing configuration.
func GetKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Enabled: viper.GetBool("kafka.enabled"),
		Brokers: viper.GetStringSlice("kafka.brokers"),
		Topic:   viper.GetString("kafka.topic"),
	}
}

// GetBackupConfig returns the S3 backup configuration.
func GetBackupConfig() BackupConfig {
	return BackupConfig{
		Enabled:   viper.GetBool("backup.enabled"),
		Endpoint:  viper.GetString("backup.endpoint"),
		AccessKey: viper.GetString("backup.accessKey"),
		SecretKey: viper.GetString("backup.secretKey"),
		Bucket:    viper.GetString("backup.bucket"),
		UseSSL:    viper.GetBool("backup.useSSL"),
		Schedule:  viper.GetString("backup.schedule"),
	}
}

// GetServerConfig returns the HTTP server configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{Address: viper.GetString("server.address")}
}

// GetNotifyConfig returns the push notification configuration.
func GetNotifyConfig() NotifyConfig {
	return NotifyConfig{
		FCMEnabled:         viper.GetBool("notify.fcm.enabled"),
		FCMCredentialsFile: viper.GetString("notify.fcm.credentialsFile"),
		FCMTokens:          viper.GetStringSlice("notify.fcm.tokens"),
	}
}

// GetGraylogConfig returns the GELF configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
