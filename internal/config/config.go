package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Port              string
	AllowedOrigin     string
	StorageDriver     string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	KeyPrefix         string
	AuthSecret        string
	SessionTTLHours   int
	CookieSecure      bool
	DefaultStock      int
	LowStockThreshold int
	Currency          string
	StoreName         string
	StorePhone        string
	LogoPath          string
	LogLevel          string
	LogFormat         string
	SeedDemoUser      bool
}

// Load reads the optional YAML file named by CONFIG_FILE and then applies the
// environment on top. Keys are the lower-cased environment names in both sources.
func Load() (Config, error) {
	k := koanf.New(".")

	envProvider := env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			if strings.TrimSpace(value) == "" {
				return "", nil
			}
			return strings.ToLower(key), value
		},
	})

	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, errors.Wrap(err, "load env variables failed")
	}
	if path := strings.TrimSpace(k.String("config_file")); path != "" {
		fileConf := koanf.New(".")
		if err := fileConf.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s failed", path)
		}
		// environment wins over the file
		if err := fileConf.Merge(k); err != nil {
			return Config{}, errors.Wrap(err, "merge env over config file failed")
		}
		k = fileConf
	}

	get := func(key string, fallback string) string {
		val := strings.TrimSpace(k.String(key))
		if val == "" {
			return fallback
		}
		return val
	}

	redisDB, _ := strconv.Atoi(get("redis_db", "0"))
	sessionTTL, err := strconv.Atoi(get("session_ttl_hours", "24"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 24
	}
	defaultStock, err := strconv.Atoi(get("default_stock", "50"))
	if err != nil || defaultStock < 0 {
		defaultStock = 50
	}
	threshold, err := strconv.Atoi(get("low_stock_threshold", "10"))
	if err != nil || threshold < 0 {
		threshold = 10
	}
	cookieSecure, _ := strconv.ParseBool(get("cookie_secure", "false"))
	seedDemo, _ := strconv.ParseBool(get("seed_demo_user", "false"))

	cfg := Config{
		Port:              get("port", "8080"),
		AllowedOrigin:     get("allowed_origin", "http://127.0.0.1:3000"),
		StorageDriver:     strings.ToLower(get("storage_driver", "")),
		DatabaseURL:       get("database_url", ""),
		RedisAddr:         get("redis_addr", ""),
		RedisPassword:     get("redis_password", ""),
		RedisDB:           redisDB,
		KeyPrefix:         get("key_prefix", "pos_"),
		AuthSecret:        get("auth_secret", ""),
		SessionTTLHours:   sessionTTL,
		CookieSecure:      cookieSecure,
		DefaultStock:      defaultStock,
		LowStockThreshold: threshold,
		Currency:          strings.ToUpper(get("currency", "INR")),
		StoreName:         get("store_name", "Shrim Creation"),
		StorePhone:        get("store_phone", ""),
		LogoPath:          get("logo_path", ""),
		LogLevel:          get("log_level", "info"),
		LogFormat:         get("log_format", "json"),
		SeedDemoUser:      seedDemo,
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Driver is the storage backend to open. An empty STORAGE_DRIVER picks postgres
// when DATABASE_URL is set, then redis when REDIS_ADDR is set, then memory.
func (c Config) Driver() string {
	if c.StorageDriver != "" {
		return c.StorageDriver
	}
	switch {
	case c.DatabaseURL != "":
		return DriverPostgres
	case c.RedisAddr != "":
		return DriverRedis
	default:
		return DriverMemory
	}
}
