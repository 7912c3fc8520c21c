// Package relay implements the configuration center, sync orchestrator,
// scheduler, and management core: the live, mutable heart of the daemon.
package relay

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// LogConfig configures the process-wide slog logger.
type LogConfig struct {
	Level  string `toml:"level" env:"RELAYFETCH_LOG_LEVEL"`
	Format string `toml:"format" env:"RELAYFETCH_LOG_FORMAT"`
}

// Apply installs a process-wide slog logger matching the configured level
// and format. Called once at daemon startup.
func (lc *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + lc.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + lc.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// RuntimeConfig holds the tunables read from config.toml at startup and
// persisted back on every validated mutation.
type RuntimeConfig struct {
	IntervalSecs       uint64  `toml:"interval_secs" env:"RELAYFETCH_INTERVAL_SECS"`
	StorageDir         string  `toml:"storage_dir" env:"RELAYFETCH_STORAGE_DIR"`
	Bind               string  `toml:"bind" env:"RELAYFETCH_BIND"`
	GRPCAdmin          string  `toml:"grpc_admin" env:"RELAYFETCH_GRPC_ADMIN"`
	HTTPAdmin          string  `toml:"http_admin" env:"RELAYFETCH_HTTP_ADMIN"`
	URL                string  `toml:"url" env:"RELAYFETCH_URL"`
	Proxy              *string `toml:"proxy,omitempty" env:"RELAYFETCH_PROXY"`
	DownloadConcurrency uint   `toml:"download_concurrency" env:"RELAYFETCH_DOWNLOAD_CONCURRENCY"`
	DownloadRetry      uint    `toml:"download_retry" env:"RELAYFETCH_DOWNLOAD_RETRY"`
	RetryBaseDelayMs   uint64  `toml:"retry_base_delay_ms" env:"RELAYFETCH_RETRY_BASE_DELAY_MS"`
	Log                LogConfig `toml:"log"`

	// BindPort is derived from Bind by deriveBindPort, not read from TOML, mirroring
	// the spec's "derived bind_addr, bind_port filled after parse".
	BindPort int `toml:"-"`
}

// DefaultRuntimeConfig returns the documented defaults (§3): a 24-hour
// interval, a "data" storage directory, 4-way concurrency, 3 retries, and
// a 1-second base backoff.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		IntervalSecs:        86400,
		StorageDir:          "data",
		DownloadConcurrency: 4,
		DownloadRetry:       3,
		RetryBaseDelayMs:    1000,
	}
}

// LoadRuntimeConfig decodes path into a RuntimeConfig seeded with
// defaults, rejects unrecognised keys, applies environment overrides,
// and derives BindPort.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "relay: decode "+path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("relay: unrecognised config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := applyEnvToStruct(cfg); err != nil {
		return nil, err
	}
	if err := cfg.deriveBindPort(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RuntimeConfig) deriveBindPort() error {
	if c.Bind == "" {
		return nil
	}
	_, portStr, err := net.SplitHostPort(c.Bind)
	if err != nil {
		return errors.Wrap(err, "relay: invalid bind address "+c.Bind)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.Wrap(err, "relay: invalid bind port in "+c.Bind)
	}
	c.BindPort = port
	return nil
}

// Save serialises c back to path as TOML, through a temp file and rename.
func (c *RuntimeConfig) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return errors.Wrap(err, "relay: create temp config")
	}
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(c); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "relay: encode config")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Clone returns a deep-enough copy for the clone-mutate-validate-publish
// pattern: every field update_config can touch is copied by value, and
// the Proxy pointer is copied to a fresh allocation so mutating the clone
// never aliases the original.
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	clone := *c
	if c.Proxy != nil {
		p := *c.Proxy
		clone.Proxy = &p
	}
	return &clone
}

// Check validates the bounds from §3. It is called on every update_config
// post-image; configs loaded from disk at startup or by reload_configs are
// not checked.
func (c *RuntimeConfig) Check() error {
	if c.IntervalSecs < 100 {
		return errors.New("interval_secs must be >= 100")
	}
	if c.StorageDir == "" {
		return errors.New("storage_dir is not set")
	}
	if !filepath.IsAbs(c.StorageDir) {
		return errors.New("storage_dir must be an absolute path")
	}
	if st, err := os.Stat(c.StorageDir); err == nil && !st.IsDir() {
		return errors.New("storage_dir exists and is not a directory")
	}
	if c.URL == "" {
		return errors.New("url is not set")
	}
	if strings.Contains(c.URL, "://") || strings.Contains(c.URL, "/") || strings.Contains(c.URL, " ") {
		return errors.New("url must not contain a scheme, slash, or space")
	}
	if err := validateSocketAddr(c.Bind, "bind"); err != nil {
		return err
	}
	if c.HTTPAdmin != "" {
		if err := validateSocketAddr(c.HTTPAdmin, "http_admin"); err != nil {
			return err
		}
	}
	if c.GRPCAdmin != "" {
		if err := validateSocketAddr(c.GRPCAdmin, "grpc_admin"); err != nil {
			return err
		}
	}
	if c.Proxy != nil {
		if err := validateProxy(*c.Proxy); err != nil {
			return err
		}
	}
	if c.DownloadConcurrency < 1 || c.DownloadConcurrency > 64 {
		return errors.New("download_concurrency must be between 1 and 64")
	}
	if c.DownloadRetry > 10 {
		return errors.New("download_retry must be <= 10")
	}
	if c.RetryBaseDelayMs < 10 || c.RetryBaseDelayMs > 60000 {
		return errors.New("retry_base_delay_ms must be between 10 and 60000")
	}
	return nil
}

func validateSocketAddr(addr, field string) error {
	if addr == "" {
		return errors.New(field + " is not set")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errors.Wrap(err, "invalid "+field+" address "+addr)
	}
	return nil
}

// validateProxy enforces "scheme://host:port" with scheme in
// {http, https, socks5} and a mandatory port, per §3.
func validateProxy(proxy string) error {
	parts := strings.SplitN(proxy, "://", 2)
	if len(parts) != 2 {
		return errors.New("proxy must be of the form scheme://host:port")
	}
	switch parts[0] {
	case "http", "https", "socks5":
	default:
		return errors.New("proxy scheme must be http, https, or socks5")
	}
	if _, port, err := net.SplitHostPort(parts[1]); err != nil || port == "" {
		return errors.New("proxy must include an explicit port")
	}
	return nil
}

// applyEnvToStruct recursively applies "env"-tagged overrides via
// reflection.
func applyEnvToStruct(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("applyEnvToStruct requires a pointer to struct")
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		if envTag := fieldType.Tag.Get("env"); envTag != "" {
			if err := setFieldFromEnv(field, envTag); err != nil {
				return errors.Wrap(err, "field "+fieldType.Name)
			}
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field.Addr().Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

func setFieldFromEnv(field reflect.Value, envVar string) error {
	envValue, ok := os.LookupEnv(envVar)
	if !ok {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		n, err := strconv.ParseUint(envValue, 10, 64)
		if err != nil {
			return errors.New("invalid unsigned integer for " + envVar + ": " + envValue)
		}
		field.SetUint(n)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return errors.New("invalid integer for " + envVar + ": " + envValue)
		}
		field.SetInt(n)
	case reflect.Ptr:
		if field.Type().Elem().Kind() == reflect.String {
			s := envValue
			field.Set(reflect.ValueOf(&s))
			return nil
		}
		return errors.New("unsupported pointer field type for " + envVar)
	default:
		return errors.New("unsupported field type for " + envVar + ": " + field.Kind().String())
	}
	return nil
}
