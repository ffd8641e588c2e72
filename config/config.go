package config

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds the bootstrap configuration. Runtime settings edited from the
// admin page live in the settings document, see Settings.
type Config struct {
	// App settings
	SettingsPath string
	BaseDir      string
	LogLevel     string
	LockPath     string

	// Target settings
	WindowProcess string
	KillProcess   string
	DefaultSkin   string

	// Database settings
	HistoryDBPath string

	MSSQLEnabled  bool
	MSSQLServer   string
	MSSQLPort     int
	MSSQLDatabase string
	MSSQLUsername string
	MSSQLPassword string

	// WhatsApp alert settings
	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppNotify    string

	// Update settings
	UpdateFeedURL string
	UpdateTimeout time.Duration

	// Metrics settings
	MetricsEnabled bool
}

// LoadConfig loads configuration from .env, environment variables and config.ini
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Failed to load .env: %v", err)
	}

	config := defaultConfig()

	path := getEnv("QRBRIDGE_CONFIG_INI", filepath.Join(config.BaseDir, "config.ini"))
	if err := LoadConfigFile(config, path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: Failed to load %s: %v", path, err)
		}
		log.Println("Using environment variables or defaults")
	}

	config.Resolve()
	return config
}

func defaultConfig() *Config {
	base := executableDir()
	return &Config{
		SettingsPath: getEnv("QRBRIDGE_SETTINGS", "config.json"),
		BaseDir:      getEnv("QRBRIDGE_BASE_DIR", base),
		LogLevel:     getEnv("QRBRIDGE_LOG_LEVEL", "info"),
		LockPath:     getEnv("QRBRIDGE_LOCK", "qrbridge.lock"),

		WindowProcess: getEnv("QRBRIDGE_WINDOW_PROCESS", "Weixin.exe"),
		KillProcess:   getEnv("QRBRIDGE_KILL_PROCESS", "WeChatAppEx.exe"),
		DefaultSkin:   getEnv("QRBRIDGE_DEFAULT_SKIN", "skin.png"),

		HistoryDBPath: getEnv("QRBRIDGE_HISTORY_DB", "qrbridge.db"),

		MSSQLEnabled:  getEnvBool("MSSQL_ENABLED", false),
		MSSQLServer:   getEnv("MSSQL_SERVER", "localhost"),
		MSSQLPort:     getEnvInt("MSSQL_PORT", 1433),
		MSSQLDatabase: getEnv("MSSQL_DATABASE", "qrbridge"),
		MSSQLUsername: getEnv("MSSQL_USERNAME", "sa"),
		MSSQLPassword: getEnv("MSSQL_PASSWORD", ""),

		WhatsAppEnabled:   getEnvBool("WHATSAPP_ENABLED", false),
		WhatsAppStorePath: getEnv("WHATSAPP_STORE", "whatsapp_admin.db"),
		WhatsAppNotify:    getEnv("WHATSAPP_NOTIFY", ""),

		UpdateFeedURL: getEnv("QRBRIDGE_UPDATE_FEED", "https://api.github.com/repos/jaliph/qrbridge/releases/latest"),
		UpdateTimeout: 30 * time.Second,

		MetricsEnabled: getEnvBool("QRBRIDGE_METRICS", false),
	}
}

// LoadConfigFile overlays the sections of an ini file onto config
func LoadConfigFile(config *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	// App section
	app := cfg.Section("app")
	setString(app, "settings_path", &config.SettingsPath)
	setString(app, "base_dir", &config.BaseDir)
	setString(app, "log_level", &config.LogLevel)
	setString(app, "lock_path", &config.LockPath)

	// Target section
	target := cfg.Section("target")
	setString(target, "window_process", &config.WindowProcess)
	setString(target, "kill_process", &config.KillProcess)
	setString(target, "default_skin", &config.DefaultSkin)

	// Database section
	setString(cfg.Section("database"), "history_path", &config.HistoryDBPath)

	mssql := cfg.Section("mssql")
	setBool(mssql, "enabled", &config.MSSQLEnabled)
	setString(mssql, "server", &config.MSSQLServer)
	if port, err := mssql.Key("port").Int(); err == nil && port > 0 {
		config.MSSQLPort = port
	}
	setString(mssql, "database", &config.MSSQLDatabase)
	setString(mssql, "username", &config.MSSQLUsername)
	setString(mssql, "password", &config.MSSQLPassword)

	// WhatsApp section
	wa := cfg.Section("whatsapp")
	setBool(wa, "enabled", &config.WhatsAppEnabled)
	setString(wa, "store_path", &config.WhatsAppStorePath)
	setString(wa, "notify", &config.WhatsAppNotify)

	// Update section
	update := cfg.Section("update")
	setString(update, "feed_url", &config.UpdateFeedURL)
	if timeout := update.Key("timeout").String(); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.UpdateTimeout = d
		} else if secs, err := strconv.Atoi(timeout); err == nil {
			config.UpdateTimeout = time.Duration(secs) * time.Second
		}
	}

	// Metrics section
	setBool(cfg.Section("metrics"), "enabled", &config.MetricsEnabled)

	return nil
}

// Resolve makes every relative path absolute against BaseDir
func (c *Config) Resolve() {
	c.SettingsPath = c.Path(c.SettingsPath)
	c.LockPath = c.Path(c.LockPath)
	c.DefaultSkin = c.Path(c.DefaultSkin)
	c.HistoryDBPath = c.Path(c.HistoryDBPath)
	c.WhatsAppStorePath = c.Path(c.WhatsAppStorePath)
}

// Path resolves p against BaseDir unless it is already absolute
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

func setString(section *ini.Section, key string, dst *string) {
	if v := section.Key(key).String(); v != "" {
		*dst = v
	}
}

func setBool(section *ini.Section, key string, dst *bool) {
	if !section.HasKey(key) {
		return
	}
	if v, err := section.Key(key).Bool(); err == nil {
		*dst = v
	}
}

// executableDir returns the directory of the running binary, or the working directory
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
