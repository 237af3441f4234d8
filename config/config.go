package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from the environment,
// an optional .env file and an optional YAML file named by CONFIG_FILE.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency  int
	MaxRetries      int
	RetryBaseMs     int
	InsertBatchSize int

	RawInputPath      string
	CleanedOutputPath string
	OutputFormat      string
	ReportPath        string
	ChunkSize         int
	ReportSampleRows  int

	DurationUnit      string
	MinDistanceKm     float64
	MinDurationSec    float64
	SpeedThresholdKmh float64

	FarePolicy    string
	FareBase      float64
	FarePerKm     float64
	FarePerMinute float64
	FareSurcharge float64
	FareMinimum   float64

	PeakPolicy  string
	PeakTopK    int
	PeakStdDevs float64

	HTTPAddr      string
	PageSize      int
	DatasetSource string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheTTLSeconds int

	LogLevel string
}

var defaults = map[string]any{
	"postgres_host":     "localhost",
	"postgres_port":     "5432",
	"postgres_user":     "data_loader",
	"postgres_password": "db_pass",
	"postgres_db":       "nyc_taxi_db",
	"postgres_sslmode":  "disable",

	"max_concurrency":   4,
	"max_retries":       3,
	"retry_base_ms":     500,
	"insert_batch_size": 500,

	"raw_input_path":      "./data/raw/train.csv",
	"cleaned_output_path": "./data/cleaned/cleaned_taxi.csv",
	"output_format":       "csv",
	"report_path":         "./data/logs/cleaning_log.txt",
	"chunk_size":          50000,
	"report_sample_rows":  100,

	"duration_unit":       "seconds",
	"min_distance_km":     0.1,
	"min_duration_sec":    60.0,
	"speed_threshold_kmh": 80.0,

	"fare_policy":     "linear",
	"fare_base":       2.50,
	"fare_per_km":     2.50,
	"fare_per_minute": 0.50,
	"fare_surcharge":  0.50,
	"fare_minimum":    3.50,

	"peak_policy":  "statistical",
	"peak_top_k":   2,
	"peak_stddevs": 1.0,

	"http_addr":      ":5000",
	"page_size":      100,
	"dataset_source": "postgres",

	"redis_addr":        "",
	"redis_password":    "",
	"redis_db":          0,
	"cache_ttl_seconds": 60,

	"log_level": "info",
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("[config] Could not read %s: %v", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		PostgresHost:     v.GetString("postgres_host"),
		PostgresPort:     v.GetString("postgres_port"),
		PostgresUser:     v.GetString("postgres_user"),
		PostgresPassword: v.GetString("postgres_password"),
		PostgresDB:       v.GetString("postgres_db"),
		PostgresSSLMode:  v.GetString("postgres_sslmode"),

		MaxConcurrency:  v.GetInt("max_concurrency"),
		MaxRetries:      v.GetInt("max_retries"),
		RetryBaseMs:     v.GetInt("retry_base_ms"),
		InsertBatchSize: v.GetInt("insert_batch_size"),

		RawInputPath:      v.GetString("raw_input_path"),
		CleanedOutputPath: v.GetString("cleaned_output_path"),
		OutputFormat:      strings.ToLower(v.GetString("output_format")),
		ReportPath:        v.GetString("report_path"),
		ChunkSize:         v.GetInt("chunk_size"),
		ReportSampleRows:  v.GetInt("report_sample_rows"),

		DurationUnit:      strings.ToLower(v.GetString("duration_unit")),
		MinDistanceKm:     v.GetFloat64("min_distance_km"),
		MinDurationSec:    v.GetFloat64("min_duration_sec"),
		SpeedThresholdKmh: v.GetFloat64("speed_threshold_kmh"),

		FarePolicy:    strings.ToLower(v.GetString("fare_policy")),
		FareBase:      v.GetFloat64("fare_base"),
		FarePerKm:     v.GetFloat64("fare_per_km"),
		FarePerMinute: v.GetFloat64("fare_per_minute"),
		FareSurcharge: v.GetFloat64("fare_surcharge"),
		FareMinimum:   v.GetFloat64("fare_minimum"),

		PeakPolicy:  strings.ToLower(v.GetString("peak_policy")),
		PeakTopK:    v.GetInt("peak_top_k"),
		PeakStdDevs: v.GetFloat64("peak_stddevs"),

		HTTPAddr:      v.GetString("http_addr"),
		PageSize:      v.GetInt("page_size"),
		DatasetSource: strings.ToLower(v.GetString("dataset_source")),

		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		CacheTTLSeconds: v.GetInt("cache_ttl_seconds"),

		LogLevel: v.GetString("log_level"),
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize < 0:
		return errors.New("CHUNK_SIZE should not be negative")
	case c.MinDistanceKm < 0:
		return errors.New("MIN_DISTANCE_KM should not be negative")
	case c.MinDurationSec < 0:
		return errors.New("MIN_DURATION_SEC should not be negative")
	case c.SpeedThresholdKmh <= 0:
		return errors.New("SPEED_THRESHOLD_KMH should be greater than 0")
	case c.DurationUnit != "seconds" && c.DurationUnit != "minutes":
		return fmt.Errorf("DURATION_UNIT %q should be seconds or minutes", c.DurationUnit)
	case c.OutputFormat != "csv" && c.OutputFormat != "parquet":
		return fmt.Errorf("OUTPUT_FORMAT %q should be csv or parquet", c.OutputFormat)
	case c.PeakTopK < 1:
		return errors.New("PEAK_TOP_K should be at least 1")
	case c.PageSize < 1:
		return errors.New("PAGE_SIZE should be at least 1")
	case c.InsertBatchSize < 1:
		return errors.New("INSERT_BATCH_SIZE should be at least 1")
	case c.DatasetSource != "postgres" && c.DatasetSource != "csv":
		return fmt.Errorf("DATASET_SOURCE %q should be postgres or csv", c.DatasetSource)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// DatabaseURL returns the PostgreSQL connection string in URL form, which the
// schema migrator requires.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     c.PostgresHost + ":" + c.PostgresPort,
		Path:     "/" + c.PostgresDB,
		RawQuery: "sslmode=" + url.QueryEscape(c.PostgresSSLMode),
	}
	return u.String()
}
