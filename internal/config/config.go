package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "flighttrial.cfg.json"

// TrialConfig holds flight timing and trial defaults.
type TrialConfig struct {
	LogFolder          string        `json:"logFolder" mapstructure:"logFolder"`
	Tick               time.Duration `json:"tick" mapstructure:"tick"`
	DefaultHeight      float64       `json:"defaultHeight" mapstructure:"defaultHeight"`
	DefaultDuration    time.Duration `json:"defaultDuration" mapstructure:"defaultDuration"`
	DefaultDelay       time.Duration `json:"defaultDelay" mapstructure:"defaultDelay"`
	OverspeedThreshold float64       `json:"overspeedThreshold" mapstructure:"overspeedThreshold"`
	TelemetryPeriod    time.Duration `json:"telemetryPeriod" mapstructure:"telemetryPeriod"`
	DispatchTimeout    time.Duration `json:"dispatchTimeout" mapstructure:"dispatchTimeout"`
	LandTimeout        time.Duration `json:"landTimeout" mapstructure:"landTimeout"`
	MaxSpeed           float64       `json:"maxSpeed" mapstructure:"maxSpeed"`
	EstimatorSettle    time.Duration `json:"estimatorSettle" mapstructure:"estimatorSettle"`
	RequiredDecks      []string      `json:"requiredDecks" mapstructure:"requiredDecks"`
}

// LinkConfig selects and configures the vehicle link.
type LinkConfig struct {
	Type            string        `json:"type" mapstructure:"type"`
	BridgeURL       string        `json:"bridgeUrl" mapstructure:"bridgeUrl"`
	AckTimeout      time.Duration `json:"ackTimeout" mapstructure:"ackTimeout"`
	TelemetryBuffer int           `json:"telemetryBuffer" mapstructure:"telemetryBuffer"`
}

// VehicleConfig describes one vehicle in the swarm.
type VehicleConfig struct {
	URI   string    `json:"uri" mapstructure:"uri"`
	Role  string    `json:"role" mapstructure:"role"`
	Start []float64 `json:"start" mapstructure:"start"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// GraylogConfig holds the GELF sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// APIConfig holds the trial archive server settings
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// GeoConfig anchors the lab frame on the globe. Unset means no geodetic output.
type GeoConfig struct {
	OriginLongitude float64 `json:"originLongitude" mapstructure:"originLongitude"`
	OriginLatitude  float64 `json:"originLatitude" mapstructure:"originLatitude"`
	Enabled         bool    `json:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./applogs")

	viper.SetDefault("trial.logFolder", "./logs")
	viper.SetDefault("trial.tick", "100ms")
	viper.SetDefault("trial.defaultHeight", 1.5)
	viper.SetDefault("trial.defaultDuration", "3s")
	viper.SetDefault("trial.defaultDelay", "2s")
	viper.SetDefault("trial.overspeedThreshold", 0.1)
	viper.SetDefault("trial.telemetryPeriod", "100ms")
	viper.SetDefault("trial.dispatchTimeout", "0s")
	viper.SetDefault("trial.landTimeout", "10s")
	viper.SetDefault("trial.maxSpeed", 1.0)
	viper.SetDefault("trial.estimatorSettle", "2s")
	viper.SetDefault("trial.requiredDecks", []string{})

	viper.SetDefault("link.type", "sim")
	viper.SetDefault("link.bridgeUrl", "ws://localhost:8765/ws")
	viper.SetDefault("link.ackTimeout", "2s")
	viper.SetDefault("link.telemetryBuffer", 256)

	viper.SetDefault("vehicles", []map[string]any{
		{"uri": "radio://0/80/2M/E7E7E7E7E7", "role": "leader", "start": []float64{0, 0, 0}},
	})

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./trials.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "flighttrials")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "flight-trials")
	viper.SetDefault("influx.backupPath", "./influx_backup.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "flight-trials")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("api.serverUrl", "")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("geo.enabled", false)
	viper.SetDefault("geo.originLongitude", 0.0)
	viper.SetDefault("geo.originLatitude", 0.0)
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetTrialConfig returns the trial timing and defaults.
func GetTrialConfig() TrialConfig {
	return TrialConfig{
		LogFolder:          viper.GetString("trial.logFolder"),
		Tick:               viper.GetDuration("trial.tick"),
		DefaultHeight:      viper.GetFloat64("trial.defaultHeight"),
		DefaultDuration:    viper.GetDuration("trial.defaultDuration"),
		DefaultDelay:       viper.GetDuration("trial.defaultDelay"),
		OverspeedThreshold: viper.GetFloat64("trial.overspeedThreshold"),
		TelemetryPeriod:    viper.GetDuration("trial.telemetryPeriod"),
		DispatchTimeout:    viper.GetDuration("trial.dispatchTimeout"),
		LandTimeout:        viper.GetDuration("trial.landTimeout"),
		MaxSpeed:           viper.GetFloat64("trial.maxSpeed"),
		EstimatorSettle:    viper.GetDuration("trial.estimatorSettle"),
		RequiredDecks:      viper.GetStringSlice("trial.requiredDecks"),
	}
}

// GetLinkConfig returns the vehicle link configuration.
func GetLinkConfig() LinkConfig {
	return LinkConfig{
		Type:            viper.GetString("link.type"),
		BridgeURL:       viper.GetString("link.bridgeUrl"),
		AckTimeout:      viper.GetDuration("link.ackTimeout"),
		TelemetryBuffer: viper.GetInt("link.telemetryBuffer"),
	}
}

// GetVehicles returns the configured swarm. Every vehicle needs a URI and
// start positions, when given, must have three components.
func GetVehicles() ([]VehicleConfig, error) {
	var vehicles []VehicleConfig
	if err := viper.UnmarshalKey("vehicles", &vehicles); err != nil {
		return nil, fmt.Errorf("error decoding vehicles: %w", err)
	}
	for i, v := range vehicles {
		if v.URI == "" {
			return nil, fmt.Errorf("vehicle %d has no uri", i)
		}
		if len(v.Start) != 0 && len(v.Start) != 3 {
			return nil, fmt.Errorf("vehicle %s: start must be [x, y, z]", v.URI)
		}
	}
	return vehicles, nil
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
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

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetAPIConfig returns the trial archive server configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
	}
}

// GetGeoConfig returns the lab origin configuration.
func GetGeoConfig() GeoConfig {
	return GeoConfig{
		Enabled:         viper.GetBool("geo.enabled"),
		OriginLongitude: viper.GetFloat64("geo.originLongitude"),
		OriginLatitude:  viper.GetFloat64("geo.originLatitude"),
	}
}
