package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/slopewatch/internal/groundtruth"
	"github.com/rewired-gh/slopewatch/internal/models"
	"github.com/rewired-gh/slopewatch/internal/risk"
	"github.com/rewired-gh/slopewatch/internal/station"
	"github.com/rewired-gh/slopewatch/internal/trigger"
)

// EnvPrefix is prepended to every environment override, e.g.
// SLOPEWATCH_TELEGRAM_BOT_TOKEN overrides telegram.bot_token.
const EnvPrefix = "SLOPEWATCH"

// Config represents the complete application configuration
type Config struct {
	Station    StationConfig    `mapstructure:"station"`
	Device     DeviceConfig     `mapstructure:"device"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
	FieldCheck FieldCheckConfig `mapstructure:"field_check"`
	Weather    WeatherConfig    `mapstructure:"weather"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StationConfig describes the monitored slope station
type StationConfig struct {
	Name            string          `mapstructure:"name" validate:"required"`
	Position        models.GeoPoint `mapstructure:"position"`
	Snapshot        ReadingsConfig  `mapstructure:"snapshot"`
	RemoteConfigURL string          `mapstructure:"remote_config_url" validate:"omitempty,url"`
}

// ReadingsConfig is the bundled static snapshot
type ReadingsConfig struct {
	SoilMoisture    float64 `mapstructure:"soil_moisture" validate:"gte=0,lte=100"`
	SlopeAngle      float64 `mapstructure:"slope_angle" validate:"gte=0,lte=90"`
	Rainfall24h     float64 `mapstructure:"rainfall_24h" validate:"gte=0"`
	GroundVibration float64 `mapstructure:"ground_vibration" validate:"gte=0"`
}

// DeviceConfig holds the observer's position used for proximity triggers
type DeviceConfig struct {
	Position models.GeoPoint `mapstructure:"position"`
}

// RiskConfig holds scoring calibration
type RiskConfig struct {
	Weights  WeightsConfig `mapstructure:"weights"`
	Ranges   RangesConfig  `mapstructure:"ranges"`
	Horizons []float64     `mapstructure:"horizons" validate:"dive,gte=0"`
	Baseline float64       `mapstructure:"baseline" validate:"gte=0,lte=1"`
	Gain     float64       `mapstructure:"gain" validate:"gt=0"`
}

// WeightsConfig holds one weight per factor
type WeightsConfig struct {
	SoilMoisture    float64 `mapstructure:"soil_moisture" validate:"gte=0,lte=1"`
	SlopeAngle      float64 `mapstructure:"slope_angle" validate:"gte=0,lte=1"`
	Rainfall24h     float64 `mapstructure:"rainfall_24h" validate:"gte=0,lte=1"`
	GroundVibration float64 `mapstructure:"ground_vibration" validate:"gte=0,lte=1"`
}

// RangesConfig holds one normalization ramp per factor
type RangesConfig struct {
	SoilMoisture    models.FactorRange `mapstructure:"soil_moisture"`
	SlopeAngle      models.FactorRange `mapstructure:"slope_angle"`
	Rainfall24h     models.FactorRange `mapstructure:"rainfall_24h"`
	GroundVibration models.FactorRange `mapstructure:"ground_vibration"`
}

// TriggerConfig holds the proximity and push latch thresholds
type TriggerConfig struct {
	ProximityMeters           float64 `mapstructure:"proximity_meters" validate:"gt=0"`
	ProximityHysteresisMeters float64 `mapstructure:"proximity_hysteresis_meters" validate:"gte=0"`
	PushRisk                  float64 `mapstructure:"push_risk" validate:"gt=0,lte=1"`
	PushHysteresis            float64 `mapstructure:"push_hysteresis" validate:"gte=0,lte=1"`
}

// FieldCheckConfig holds ground-truth recording settings
type FieldCheckConfig struct {
	Duration              time.Duration `mapstructure:"duration"`
	SampleInterval        time.Duration `mapstructure:"sample_interval"`
	LocationInterval      time.Duration `mapstructure:"location_interval"`
	MinDisplacementMeters float64       `mapstructure:"min_displacement_meters" validate:"gte=0"`
	BufferSize            int           `mapstructure:"buffer_size" validate:"gte=1"`
}

// WeatherConfig holds the rainfall API and refresh settings
type WeatherConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=1,lte=10"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gte=1"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// TelegramConfig holds Telegram push configuration. PushToken is the chat
// ID used until a device registers through the bot.
type TelegramConfig struct {
	BotToken  string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	PushToken string `mapstructure:"push_token"`
	Enabled   bool   `mapstructure:"enabled"`
	Listen    bool   `mapstructure:"listen"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	MaxHistory      int    `mapstructure:"max_history" validate:"gte=1"`
	FilePath        string `mapstructure:"file_path"`
	FilePermissions uint32 `mapstructure:"file_permissions"`
	DirPermissions  uint32 `mapstructure:"dir_permissions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Load reads configuration from file, .env and environment variables
func Load(path string) (*Config, error) {
	// A missing .env is fine; existing environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("station.name", "station")
	v.SetDefault("station.position.latitude", 0.0)
	v.SetDefault("station.position.longitude", 0.0)
	v.SetDefault("station.snapshot.soil_moisture", 80.0)
	v.SetDefault("station.snapshot.slope_angle", 35.0)
	v.SetDefault("station.snapshot.rainfall_24h", 150.0)
	v.SetDefault("station.snapshot.ground_vibration", 5.0)
	v.SetDefault("station.remote_config_url", "")

	v.SetDefault("device.position.latitude", 0.0)
	v.SetDefault("device.position.longitude", 0.0)

	weights := models.DefaultWeights()
	v.SetDefault("risk.weights.soil_moisture", weights[models.SoilMoisture])
	v.SetDefault("risk.weights.slope_angle", weights[models.SlopeAngle])
	v.SetDefault("risk.weights.rainfall_24h", weights[models.Rainfall24h])
	v.SetDefault("risk.weights.ground_vibration", weights[models.GroundVibration])

	ranges := models.DefaultRanges()
	for key, f := range factorKeys {
		v.SetDefault("risk.ranges."+key+".start_risk", ranges[f].StartRisk)
		v.SetDefault("risk.ranges."+key+".danger_threshold", ranges[f].DangerThreshold)
	}
	v.SetDefault("risk.horizons", risk.DefaultHorizons)
	v.SetDefault("risk.baseline", risk.DefaultBaseline)
	v.SetDefault("risk.gain", risk.DefaultGain)

	th := trigger.DefaultThresholds()
	v.SetDefault("trigger.proximity_meters", th.ProximityMeters)
	v.SetDefault("trigger.proximity_hysteresis_meters", th.ProximityHysteresisMeters)
	v.SetDefault("trigger.push_risk", th.PushRisk)
	v.SetDefault("trigger.push_hysteresis", th.PushHysteresis)

	v.SetDefault("field_check.duration", "5m")
	v.SetDefault("field_check.sample_interval", "100ms")
	v.SetDefault("field_check.location_interval", "2s")
	v.SetDefault("field_check.min_displacement_meters", 2.0)
	v.SetDefault("field_check.buffer_size", groundtruth.DefaultBufferSize)

	v.SetDefault("weather.base_url", "https://api.open-meteo.com")
	v.SetDefault("weather.poll_interval", "15m")
	v.SetDefault("weather.timeout", "15s")
	v.SetDefault("weather.max_retries", 3)
	v.SetDefault("weather.retry_delay_base", "1s")
	v.SetDefault("weather.breaker_failures", 5)
	v.SetDefault("weather.breaker_cooldown", "30s")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.push_token", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.listen", true)

	v.SetDefault("storage.max_history", 500)
	v.SetDefault("storage.file_path", "./data/slopewatch.json")
	v.SetDefault("storage.file_permissions", 0o600)
	v.SetDefault("storage.dir_permissions", 0o755)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// factorKeys maps config keys to factors. Viper lowercases keys, so the
// camelCase factor names cannot be used directly.
var factorKeys = map[string]models.Factor{
	"soil_moisture":    models.SoilMoisture,
	"slope_angle":      models.SlopeAngle,
	"rainfall_24h":     models.Rainfall24h,
	"ground_vibration": models.GroundVibration,
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := c.Station.Position.Validate(); err != nil {
		return fmt.Errorf("station.position: %w", err)
	}
	if err := c.Device.Position.Validate(); err != nil {
		return fmt.Errorf("device.position: %w", err)
	}

	if err := c.Weights().Validate(); err != nil {
		return fmt.Errorf("risk.weights: %w", err)
	}
	for f, r := range c.Ranges() {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("risk.ranges.%s: %w", f, err)
		}
	}

	if c.Trigger.PushHysteresis > c.Trigger.PushRisk {
		return fmt.Errorf("trigger.push_hysteresis must not exceed trigger.push_risk")
	}

	if c.FieldCheck.Duration < 10*time.Second {
		return fmt.Errorf("field_check.duration must be at least 10 seconds")
	}
	if c.FieldCheck.SampleInterval < 10*time.Millisecond {
		return fmt.Errorf("field_check.sample_interval must be at least 10ms")
	}
	if c.FieldCheck.LocationInterval < 100*time.Millisecond {
		return fmt.Errorf("field_check.location_interval must be at least 100ms")
	}
	if c.FieldCheck.SampleInterval >= c.FieldCheck.Duration {
		return fmt.Errorf("field_check.sample_interval must be shorter than field_check.duration")
	}

	if c.Weather.PollInterval < 1*time.Minute {
		return fmt.Errorf("weather.poll_interval must be at least 1 minute")
	}
	if c.Weather.Timeout <= 0 {
		return fmt.Errorf("weather.timeout must be positive")
	}
	if c.Weather.RetryDelayBase <= 0 {
		return fmt.Errorf("weather.retry_delay_base must be positive")
	}
	if c.Weather.BreakerCooldown <= 0 {
		return fmt.Errorf("weather.breaker_cooldown must be positive")
	}

	return nil
}

// StaticSnapshot returns the bundled snapshot.
func (c *Config) StaticSnapshot() models.SensorSnapshot {
	s := c.Station.Snapshot
	return models.SensorSnapshot{
		SoilMoisture:    s.SoilMoisture,
		SlopeAngle:      s.SlopeAngle,
		Rainfall24h:     s.Rainfall24h,
		GroundVibration: s.GroundVibration,
		Source:          models.SourceStatic,
	}
}

// Weights returns the configured factor weights.
func (c *Config) Weights() models.FactorWeights {
	w := c.Risk.Weights
	return models.FactorWeights{
		models.SoilMoisture:    w.SoilMoisture,
		models.SlopeAngle:      w.SlopeAngle,
		models.Rainfall24h:     w.Rainfall24h,
		models.GroundVibration: w.GroundVibration,
	}
}

// Ranges returns the configured normalization ramps.
func (c *Config) Ranges() map[models.Factor]models.FactorRange {
	r := c.Risk.Ranges
	return map[models.Factor]models.FactorRange{
		models.SoilMoisture:    r.SoilMoisture,
		models.SlopeAngle:      r.SlopeAngle,
		models.Rainfall24h:     r.Rainfall24h,
		models.GroundVibration: r.GroundVibration,
	}
}

// EngineOptions returns the risk engine options.
func (c *Config) EngineOptions() risk.Options {
	return risk.Options{
		Ranges:   c.Ranges(),
		Weights:  c.Weights(),
		Horizons: c.Risk.Horizons,
		Calibration: risk.Calibration{
			Baseline: c.Risk.Baseline,
			Gain:     c.Risk.Gain,
		},
	}
}

// Thresholds returns the trigger latch thresholds.
func (c *Config) Thresholds() trigger.Thresholds {
	return trigger.Thresholds{
		ProximityMeters:           c.Trigger.ProximityMeters,
		ProximityHysteresisMeters: c.Trigger.ProximityHysteresisMeters,
		PushRisk:                  c.Trigger.PushRisk,
		PushHysteresis:            c.Trigger.PushHysteresis,
	}
}

// SessionConfig returns the field-check session settings.
func (c *Config) SessionConfig() groundtruth.Config {
	fc := c.FieldCheck
	return groundtruth.Config{
		Duration:              fc.Duration,
		SampleInterval:        fc.SampleInterval,
		LocationInterval:      fc.LocationInterval,
		MinDisplacementMeters: fc.MinDisplacementMeters,
		BufferSize:            fc.BufferSize,
	}
}

// StationClientConfig returns the remote config and weather client settings.
func (c *Config) StationClientConfig() station.ClientConfig {
	return station.ClientConfig{
		RemoteConfigURL: c.Station.RemoteConfigURL,
		WeatherBaseURL:  c.Weather.BaseURL,
		Timeout:         c.Weather.Timeout,
		MaxRetries:      c.Weather.MaxRetries,
		RetryDelayBase:  c.Weather.RetryDelayBase,
		BreakerFailures: c.Weather.BreakerFailures,
		BreakerCooldown: c.Weather.BreakerCooldown,
	}
}

// DistanceMeters returns the distance between the device and the station.
func (c *Config) DistanceMeters() float64 {
	d := c.Device.Position.DistanceTo(c.Station.Position)
	if math.IsNaN(d) {
		return models.MaxDistanceMeters
	}
	return d
}
