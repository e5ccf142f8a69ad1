package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// City maps a city identity to the query string sent upstream.
type City struct {
	Name  string `yaml:"name" validate:"required"`
	Query string `yaml:"query" validate:"required"`
}

// DefaultCities is used when CITIES_FILE is not set.
var DefaultCities = []City{
	{Name: "Hà Nội", Query: "Hanoi"},
	{Name: "TP. Hồ Chí Minh", Query: "Ho Chi Minh City"},
	{Name: "Đà Nẵng", Query: "Da Nang"},
	{Name: "Hải Phòng", Query: "Haiphong"},
	{Name: "Cần Thơ", Query: "Can Tho"},
	{Name: "Huế", Query: "Hue"},
	{Name: "Nha Trang", Query: "Nha Trang"},
	{Name: "Đà Lạt", Query: "Da Lat"},
}

// Config holds all service settings, populated from environment variables
// (optionally seeded from a .env file) and a YAML city list.
type Config struct {
	// OpenWeatherMap forecast API.
	OWMAPIKey        string        `env:"OWM_API_KEY" validate:"required"`
	OWMBaseURL       string        `env:"OWM_BASE_URL" validate:"required,url"`
	OWMLang          string        `env:"OWM_LANG" validate:"required"`
	OWMTimeout       time.Duration `env:"OWM_TIMEOUT" validate:"gt=0"`
	OWMRetryAttempts int           `env:"OWM_RETRY_ATTEMPTS" validate:"gte=1,lte=10"`
	OWMRetryDelay    time.Duration `env:"OWM_RETRY_DELAY" validate:"gte=0"`
	OWMRateLimit     float64       `env:"OWM_RATE_LIMIT" validate:"gt=0"`
	OWMCacheTTL      time.Duration `env:"OWM_CACHE_TTL" validate:"gte=0"`
	OWMCacheSize     int           `env:"OWM_CACHE_SIZE" validate:"gte=1"`

	DataDir     string `env:"DATA_DIR" validate:"required"`
	CitiesFile  string `env:"CITIES_FILE"`
	Cities      []City `env:"CITIES_FILE" validate:"required,min=1,dive"`
	DefaultCity string `env:"DEFAULT_CITY" validate:"required"`

	HTTPAddr        string        `env:"HTTP_ADDR" validate:"required"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json console"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	// Periodic refresh of every configured city; zero disables it.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" validate:"gte=0"`

	// SQLite run history; empty disables it.
	HistoryPath string `env:"HISTORY_PATH"`

	// Optional publication of cleaned rows.
	KafkaEnabled bool     `env:"KAFKA_ENABLED"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" validate:"required_if=KafkaEnabled true"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" validate:"required_if=KafkaEnabled true"`
}

// City looks up a configured city by identity, ignoring case.
func (c *Config) City(name string) (City, bool) {
	name = strings.TrimSpace(name)
	for _, city := range c.Cities {
		if strings.EqualFold(city.Name, name) {
			return city, true
		}
	}
	return City{}, false
}

// CityNames returns the configured city identities in order.
func (c *Config) CityNames() []string {
	names := make([]string, len(c.Cities))
	for i, city := range c.Cities {
		names[i] = city.Name
	}
	return names
}

// Load reads configuration from the environment, applying defaults where unset.
// A .env file (ENV_FILE, default ".env") is loaded first when it exists;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := loadDotEnv(sharedcfg.EnvOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		OWMAPIKey:       os.Getenv("OWM_API_KEY"),
		OWMBaseURL:      strings.TrimRight(sharedcfg.EnvOrDefault("OWM_BASE_URL", "https://api.openweathermap.org/data/2.5"), "/"),
		OWMLang:         sharedcfg.EnvOrDefault("OWM_LANG", "vi"),
		DataDir:         sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		CitiesFile:      os.Getenv("CITIES_FILE"),
		DefaultCity:     sharedcfg.EnvOrDefault("DEFAULT_CITY", "Hà Nội"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,
		HistoryPath:     os.Getenv("HISTORY_PATH"),
		KafkaEnabled:    os.Getenv("KAFKA_ENABLED") == "true",
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "cleaned-forecasts"),
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	} else if cfg.KafkaEnabled {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers("localhost:9092")
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"OWM_TIMEOUT", "10s", &cfg.OWMTimeout},
		{"OWM_RETRY_DELAY", "2s", &cfg.OWMRetryDelay},
		{"OWM_CACHE_TTL", "10m", &cfg.OWMCacheTTL},
		{"REFRESH_INTERVAL", "0s", &cfg.RefreshInterval},
	}
	for _, d := range durations {
		if *d.dest, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.OWMRetryAttempts, err = parseInt("OWM_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.OWMCacheSize, err = parseInt("OWM_CACHE_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.OWMRateLimit, err = parseFloat("OWM_RATE_LIMIT", 1); err != nil {
		return nil, err
	}

	cfg.Cities = DefaultCities
	if cfg.CitiesFile != "" {
		if cfg.Cities, err = LoadCities(cfg.CitiesFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return describe(err)
	}
	if _, ok := c.City(c.DefaultCity); !ok {
		return fmt.Errorf("DEFAULT_CITY %q is not a configured city", c.DefaultCity)
	}
	seen := make(map[string]bool, len(c.Cities))
	for _, city := range c.Cities {
		key := strings.ToLower(city.Name)
		if seen[key] {
			return fmt.Errorf("city %q is configured twice", city.Name)
		}
		seen[key] = true
	}
	return nil
}

type citiesFile struct {
	Cities []City `yaml:"cities"`
}

// LoadCities reads a YAML city list of the form:
//
//	cities:
//	  - name: Hà Nội
//	    query: Hanoi
func LoadCities(path string) ([]City, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cities file: %w", err)
	}
	var f citiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cities file %s: %w", path, err)
	}
	if len(f.Cities) == 0 {
		return nil, fmt.Errorf("cities file %s lists no cities", path)
	}
	return f.Cities, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// describe turns validator output into messages naming the variable to fix.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, name+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v fails %s", name, fe.Value(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
