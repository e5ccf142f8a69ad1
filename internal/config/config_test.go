package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "owm-test-key"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("OWM_API_KEY", testAPIKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testAPIKey, cfg.OWMAPIKey)
	assert.Equal(t, "https://api.openweathermap.org/data/2.5", cfg.OWMBaseURL)
	assert.Equal(t, "vi", cfg.OWMLang)
	assert.Equal(t, 10*time.Second, cfg.OWMTimeout)
	assert.Equal(t, 3, cfg.OWMRetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.OWMRetryDelay)
	assert.Equal(t, 1.0, cfg.OWMRateLimit)
	assert.Equal(t, 10*time.Minute, cfg.OWMCacheTTL)
	assert.Equal(t, 64, cfg.OWMCacheSize)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, DefaultCities, cfg.Cities)
	assert.Equal(t, "Hà Nội", cfg.DefaultCity)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Empty(t, cfg.HistoryPath)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("OWM_BASE_URL", "http://localhost:9999/data/2.5/")
	t.Setenv("OWM_LANG", "en")
	t.Setenv("OWM_TIMEOUT", "3s")
	t.Setenv("OWM_RETRY_ATTEMPTS", "5")
	t.Setenv("OWM_RETRY_DELAY", "250ms")
	t.Setenv("OWM_RATE_LIMIT", "0.5")
	t.Setenv("OWM_CACHE_TTL", "0s")
	t.Setenv("OWM_CACHE_SIZE", "8")
	t.Setenv("DATA_DIR", "/var/lib/forecast")
	t.Setenv("DEFAULT_CITY", "huế")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("REFRESH_INTERVAL", "1h")
	t.Setenv("HISTORY_PATH", "/tmp/history.db")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "forecasts")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999/data/2.5", cfg.OWMBaseURL)
	assert.Equal(t, "en", cfg.OWMLang)
	assert.Equal(t, 3*time.Second, cfg.OWMTimeout)
	assert.Equal(t, 5, cfg.OWMRetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.OWMRetryDelay)
	assert.Equal(t, 0.5, cfg.OWMRateLimit)
	assert.Zero(t, cfg.OWMCacheTTL)
	assert.Equal(t, 8, cfg.OWMCacheSize)
	assert.Equal(t, "/var/lib/forecast", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.RefreshInterval)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryPath)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "forecasts", cfg.KafkaTopic)

	city, ok := cfg.City("HUẾ")
	require.True(t, ok)
	assert.Equal(t, "Hue", city.Query)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("OWM_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OWM_API_KEY is required")
}

func TestLoad_DotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OWM_API_KEY=from-dotenv\nOWM_LANG=en\n"), 0o600))
	t.Setenv("ENV_FILE", envFile)
	t.Setenv("OWM_API_KEY", "")
	t.Setenv("OWM_LANG", "")
	// godotenv does not override variables that are already set, so unset them.
	require.NoError(t, os.Unsetenv("OWM_API_KEY"))
	require.NoError(t, os.Unsetenv("OWM_LANG"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.OWMAPIKey)
	assert.Equal(t, "en", cfg.OWMLang)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"OWM_TIMEOUT", "soon", "invalid OWM_TIMEOUT"},
		{"OWM_TIMEOUT", "0s", "OWM_TIMEOUT"},
		{"OWM_RETRY_ATTEMPTS", "0", "OWM_RETRY_ATTEMPTS"},
		{"OWM_RETRY_ATTEMPTS", "many", "invalid OWM_RETRY_ATTEMPTS"},
		{"OWM_RATE_LIMIT", "-1", "OWM_RATE_LIMIT"},
		{"LOG_FORMAT", "xml", "LOG_FORMAT"},
		{"SHUTDOWN_TIMEOUT", "invalid", "SHUTDOWN_TIMEOUT"},
		{"DEFAULT_CITY", "Atlantis", "not a configured city"},
		{"OWM_BASE_URL", "not a url", "OWM_BASE_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_KafkaEnabledUsesDefaultBroker(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "cleaned-forecasts", cfg.KafkaTopic)
}

func TestLoadCities(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "cities.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cities:\n  - name: Sa Pa\n    query: Sa Pa\n  - name: Vinh\n    query: Vinh\n"), 0o600))

		setRequired(t)
		t.Setenv("CITIES_FILE", path)
		t.Setenv("DEFAULT_CITY", "Vinh")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"Sa Pa", "Vinh"}, cfg.CityNames())
	})

	t.Run("entry without query", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cities:\n  - name: Vinh\n"), 0o600))

		setRequired(t)
		t.Setenv("CITIES_FILE", path)
		t.Setenv("DEFAULT_CITY", "Vinh")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Query is required")
	})

	t.Run("duplicate city", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cities:\n  - name: Vinh\n    query: Vinh\n  - name: vinh\n    query: Vinh\n"), 0o600))

		setRequired(t)
		t.Setenv("CITIES_FILE", path)
		t.Setenv("DEFAULT_CITY", "Vinh")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configured twice")
	})

	t.Run("empty list", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cities: []\n"), 0o600))

		_, err := LoadCities(path)
		require.Error(t, err)
	})
}

func TestLoadCities_SampleFile(t *testing.T) {
	cities, err := LoadCities(filepath.Join("..", "..", "config", "cities.yaml"))
	require.NoError(t, err)

	cfg := Config{Cities: cities}
	for _, def := range DefaultCities {
		city, ok := cfg.City(def.Name)
		require.True(t, ok, "sample file covers %s", def.Name)
		assert.Equal(t, def.Query, city.Query)
	}
}
