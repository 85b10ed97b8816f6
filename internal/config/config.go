package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "MEDIARELAY_CONFIG"
	mediaRootEnv     = "MEDIARELAY_MEDIA_ROOT"
	catalogURLEnv    = "MEDIARELAY_CATALOG_URL"
	portalURLEnv     = "MEDIARELAY_PORTAL_URL"
	browserURLEnv    = "MEDIARELAY_BROWSER_URL"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Media         MediaConfig        `yaml:"media"`
	Catalog       CatalogConfig      `yaml:"catalog"`
	Portal        PortalConfig       `yaml:"portal"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Browser       BrowserConfig      `yaml:"browser"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// MediaConfig locates the on-disk media tree the pipeline writes into.
type MediaConfig struct {
	RootDir string `yaml:"rootDir"`
}

// CatalogConfig describes the remote webcast catalog to scan.
type CatalogConfig struct {
	URL string `yaml:"url"`
}

// PortalConfig describes the remote publishing portal.
type PortalConfig struct {
	URL string `yaml:"url"`
}

// PipelineConfig carries all orchestration tunables. The TTLs are deliberate
// upper bounds: the remote sessions expose no completion signal, so slots are
// reclaimed on wall time alone.
type PipelineConfig struct {
	LookbackDays         int      `yaml:"lookbackDays"`
	CycleInterval        Duration `yaml:"cycleInterval"`
	ReclaimInterval      Duration `yaml:"reclaimInterval"`
	MaxConcurrentAcquire int      `yaml:"maxConcurrentAcquire"`
	MaxConcurrentPublish int      `yaml:"maxConcurrentPublish"`
	AcquireTTL           Duration `yaml:"acquireTtl"`
	PublishTTL           Duration `yaml:"publishTtl"`
	SlotWait             Duration `yaml:"slotWait"`
	TransformTimeout     Duration `yaml:"transformTimeout"`
	QuietPeriod          Duration `yaml:"quietPeriod"`
	MinArtifactBytes     int64    `yaml:"minArtifactBytes"`
}

// BrowserConfig controls the shared Chrome instance driving remote sessions.
// Headless is a pointer so an explicit `headless: false` in the file is
// distinguishable from the key being absent.
type BrowserConfig struct {
	ControlURL string `yaml:"controlUrl"`
	Headless   *bool  `yaml:"headless"`
}

// IsHeadless resolves the headless setting, defaulting to true.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig selects the console log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(mediaRootEnv); v != "" {
		c.Media.RootDir = v
	}

	if v := os.Getenv(catalogURLEnv); v != "" {
		c.Catalog.URL = v
	}

	if v := os.Getenv(portalURLEnv); v != "" {
		c.Portal.URL = v
	}

	if v := os.Getenv(browserURLEnv); v != "" {
		c.Browser.ControlURL = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Media.RootDir != "" {
		base.Media = override.Media
	}

	if override.Catalog.URL != "" {
		base.Catalog = override.Catalog
	}

	if override.Portal.URL != "" {
		base.Portal = override.Portal
	}

	base.Pipeline = mergePipeline(base.Pipeline, override.Pipeline)

	if override.Browser.ControlURL != "" {
		base.Browser.ControlURL = override.Browser.ControlURL
	}
	if override.Browser.Headless != nil {
		base.Browser.Headless = override.Browser.Headless
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	return base
}

func mergePipeline(base, override PipelineConfig) PipelineConfig {
	if override.LookbackDays > 0 {
		base.LookbackDays = override.LookbackDays
	}
	if override.CycleInterval > 0 {
		base.CycleInterval = override.CycleInterval
	}
	if override.ReclaimInterval > 0 {
		base.ReclaimInterval = override.ReclaimInterval
	}
	if override.MaxConcurrentAcquire > 0 {
		base.MaxConcurrentAcquire = override.MaxConcurrentAcquire
	}
	if override.MaxConcurrentPublish > 0 {
		base.MaxConcurrentPublish = override.MaxConcurrentPublish
	}
	if override.AcquireTTL > 0 {
		base.AcquireTTL = override.AcquireTTL
	}
	if override.PublishTTL > 0 {
		base.PublishTTL = override.PublishTTL
	}
	if override.SlotWait > 0 {
		base.SlotWait = override.SlotWait
	}
	if override.TransformTimeout > 0 {
		base.TransformTimeout = override.TransformTimeout
	}
	if override.QuietPeriod > 0 {
		base.QuietPeriod = override.QuietPeriod
	}
	if override.MinArtifactBytes > 0 {
		base.MinArtifactBytes = override.MinArtifactBytes
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Media:   MediaConfig{RootDir: "media"},
		Catalog: CatalogConfig{URL: "https://webcast.example.org/CablecastPublicSite"},
		Portal:  PortalConfig{URL: "https://portal.example.org/cablecast/ui"},
		Pipeline: PipelineConfig{
			LookbackDays:         14,
			CycleInterval:        Duration(6 * time.Hour),
			ReclaimInterval:      Duration(time.Minute),
			MaxConcurrentAcquire: 10,
			MaxConcurrentPublish: 10,
			AcquireTTL:           Duration(5 * time.Minute),
			PublishTTL:           Duration(12 * time.Minute),
			SlotWait:             Duration(30 * time.Second),
			TransformTimeout:     Duration(10 * time.Minute),
			QuietPeriod:          Duration(5 * time.Minute),
			MinArtifactBytes:     1 << 20,
		},
		Browser: BrowserConfig{},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
