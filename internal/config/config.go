// Package config centralises runtime options, resolved from flags,
// EGCLAIMER_* environment variables and an optional egclaimer.yaml, in that
// order of precedence.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// launcherClientID and launcherClientSecret identify the storefront's own
// launcher application to the token endpoint. They are public constants
// shipped inside the launcher, not secrets of this tool.
const (
	launcherClientID     = "34a02cf8f4414e29b15921876da36f9d"
	launcherClientSecret = "daafbccc737745039dffe53d94fc76cf"
)

// Options is the resolved runtime configuration.
type Options struct {
	Country string
	Locale  string

	Profile       string
	UserDataDir   string
	BrowserBin    string
	Headless      bool
	PreferBundled bool

	SessionPath string
	EvidenceDir string

	ClientID     string
	ClientSecret string
	UserAgent    string

	HTTPTimeout    time.Duration
	CaptchaCeiling time.Duration
	LoginTimeout   time.Duration

	ScheduleHour   int
	ScheduleMinute int

	LogLevel string
}

// Init wires viper's environment and config-file lookup. Call once before
// Load, typically from cobra.OnInitialize.
func Init() error {
	viper.SetEnvPrefix("EGCLAIMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("egclaimer")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir := stateDir(); dir != "" {
		viper.AddConfigPath(dir)
	}

	setDefaults()

	// A missing config file is the common case; only a malformed one matters.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("country", "US")
	viper.SetDefault("locale", "en-US")
	viper.SetDefault("profile", "Default")
	viper.SetDefault("headless", true)
	viper.SetDefault("prefer-bundled", false)
	viper.SetDefault("session-path", filepath.Join(stateDir(), "session.json"))
	viper.SetDefault("evidence-dir", filepath.Join(stateDir(), "evidence"))
	viper.SetDefault("client-id", launcherClientID)
	viper.SetDefault("client-secret", launcherClientSecret)
	viper.SetDefault("user-agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	viper.SetDefault("http-timeout", 30*time.Second)
	viper.SetDefault("captcha-ceiling", 5*time.Minute)
	viper.SetDefault("login-timeout", 5*time.Minute)
	viper.SetDefault("schedule-hour", 9)
	viper.SetDefault("schedule-minute", 0)
	viper.SetDefault("log-level", "info")
}

// Load materialises Options from viper's merged sources.
func Load() Options {
	return Options{
		Country:        viper.GetString("country"),
		Locale:         viper.GetString("locale"),
		Profile:        viper.GetString("profile"),
		UserDataDir:    viper.GetString("user-data-dir"),
		BrowserBin:     viper.GetString("browser-bin"),
		Headless:       viper.GetBool("headless"),
		PreferBundled:  viper.GetBool("prefer-bundled"),
		SessionPath:    viper.GetString("session-path"),
		EvidenceDir:    viper.GetString("evidence-dir"),
		ClientID:       viper.GetString("client-id"),
		ClientSecret:   viper.GetString("client-secret"),
		UserAgent:      viper.GetString("user-agent"),
		HTTPTimeout:    viper.GetDuration("http-timeout"),
		CaptchaCeiling: viper.GetDuration("captcha-ceiling"),
		LoginTimeout:   viper.GetDuration("login-timeout"),
		ScheduleHour:   viper.GetInt("schedule-hour"),
		ScheduleMinute: viper.GetInt("schedule-minute"),
		LogLevel:       viper.GetString("log-level"),
	}
}

// stateDir is where the session, evidence and config live.
func stateDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "egclaimer")
}
