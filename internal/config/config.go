// Package config resolves process settings. Later sources win: defaults,
// then the JSON file, then .env and the environment, then flags.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRemote   = "remote"
)

// Duration reads "12h"-style strings from JSON.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type Config struct {
	Port           string   `json:"port"`
	Environment    string   `json:"environment"`
	LogLevel       string   `json:"logLevel"`
	AllowedOrigins []string `json:"allowedOrigins"`
	AppID          string   `json:"appId"`

	BackendDriver string `json:"backendDriver"` // memory | postgres | remote
	BackendURL    string `json:"backendUrl"`    // remote driver and the Admin Panel link
	DBURL         string `json:"dbUrl"`         // postgres only
	DSLDir        string `json:"dslDir"`        // empty or missing = built-in schema
	SeedFile      string `json:"seedFile"`      // embedded drivers only

	JWTSecret  string   `json:"jwtSecret"`
	SessionTTL Duration `json:"sessionTtl"`
	FanoutWait Duration `json:"fanoutWait"`

	LoginRate  float64 `json:"loginRate"` // attempts per second per client
	LoginBurst int     `json:"loginBurst"`
}

func def() Config {
	return Config{
		Port:           "1111",
		Environment:    "production",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		AppID:          "flavorfind",
		BackendDriver:  DriverMemory,
		BackendURL:     "http://localhost:1111",
		DSLDir:         "dsl",
		SeedFile:       "seed/demo.yaml",
		SessionTTL:     Duration{12 * time.Hour},
		FanoutWait:     Duration{2 * time.Second},
		LoginRate:      1,
		LoginBurst:     5,
	}
}

// Addr is the listen address for Port.
func (c Config) Addr() string { return ":" + c.Port }

// Embedded reports whether records live in this process.
func (c Config) Embedded() bool { return c.BackendDriver != DriverRemote }

func (c Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	switch c.BackendDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DBURL == "" {
			errs = append(errs, errors.New("postgres driver needs DB_URL"))
		}
	case DriverRemote:
		if c.BackendURL == "" {
			errs = append(errs, errors.New("remote driver needs BACKEND_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend driver %q", c.BackendDriver))
	}
	if c.SessionTTL.Duration <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.FanoutWait.Duration < 0 {
		errs = append(errs, errors.New("fanout wait must not be negative"))
	}
	if c.LoginBurst < 0 {
		errs = append(errs, errors.New("login burst must not be negative"))
	}
	return errors.Join(errs...)
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvDuration(k string, fallback Duration) (Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return Duration{d}, nil
}

func getenvFloat(k string, fallback float64) (float64, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return f, nil
}

func getenvInt(k string, fallback int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyEnv(cfg *Config) error {
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.Environment = getenv("APP_ENV", getenv("NODE_ENV", cfg.Environment))
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	if v := getenv("ALLOWED_ORIGINS", ""); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	cfg.AppID = getenv("APP_ID", cfg.AppID)
	cfg.BackendDriver = strings.ToLower(getenv("BACKEND_DRIVER", cfg.BackendDriver))
	cfg.BackendURL = getenv("BACKEND_URL", cfg.BackendURL)
	cfg.DBURL = getenv("DB_URL", cfg.DBURL)
	cfg.DSLDir = getenv("DSL_DIR", cfg.DSLDir)
	cfg.SeedFile = getenv("SEED_FILE", cfg.SeedFile)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)

	var errs []error
	var err error
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		errs = append(errs, err)
	}
	if cfg.FanoutWait, err = getenvDuration("FANOUT_WAIT", cfg.FanoutWait); err != nil {
		errs = append(errs, err)
	}
	if cfg.LoginRate, err = getenvFloat("LOGIN_RATE", cfg.LoginRate); err != nil {
		errs = append(errs, err)
	}
	if cfg.LoginBurst, err = getenvInt("LOGIN_BURST", cfg.LoginBurst); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load resolves the configuration for a process started with args (without
// the program name). A missing JSON or .env file is not an error.
func Load(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "flavorfind.json", "Path to config JSON")
	envFile := fs.String("env-file", ".env", "Path to .env file")
	port := fs.String("port", "", "HTTP port")
	env := fs.String("env", "", "Environment name")
	logLevel := fs.String("log-level", "", "Log level")
	origins := fs.String("origins", "", "Allowed CORS origins, comma separated")
	appID := fs.String("app-id", "", "Application id sent as X-App-ID")
	driver := fs.String("driver", "", "Backend driver (memory/postgres/remote)")
	backendURL := fs.String("backend", "", "Remote backend base URL")
	db := fs.String("db", "", "Postgres URL")
	dsl := fs.String("dsl", "", "Path to DSL directory")
	seedFile := fs.String("seed", "", "Seed YAML file")
	ttl := fs.Duration("session-ttl", 0, "Session lifetime")
	fanout := fs.Duration("fanout-wait", 0, "Max wait for menu loads before rendering")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def()
	if st, err := os.Stat(*configPath); err == nil && !st.IsDir() {
		if err := loadJSON(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", *envFile, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = strings.TrimSpace(*port)
		case "env":
			cfg.Environment = strings.TrimSpace(*env)
		case "log-level":
			cfg.LogLevel = strings.TrimSpace(*logLevel)
		case "origins":
			cfg.AllowedOrigins = splitList(*origins)
		case "app-id":
			cfg.AppID = strings.TrimSpace(*appID)
		case "driver":
			cfg.BackendDriver = strings.ToLower(strings.TrimSpace(*driver))
		case "backend":
			cfg.BackendURL = strings.TrimSpace(*backendURL)
		case "db":
			cfg.DBURL = strings.TrimSpace(*db)
		case "dsl":
			cfg.DSLDir = strings.TrimSpace(*dsl)
		case "seed":
			cfg.SeedFile = strings.TrimSpace(*seedFile)
		case "session-ttl":
			cfg.SessionTTL = Duration{*ttl}
		case "fanout-wait":
			cfg.FanoutWait = Duration{*fanout}
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
