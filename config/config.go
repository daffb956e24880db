package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Deck    DeckConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// SessionConfig holds session lifecycle settings. TTLMinutes=0 disables idle
// eviction entirely, preserving the sessions-live-forever reference behavior.
type SessionConfig struct {
	TTLMinutes             int
	CleanupIntervalMinutes int
}

// DeckConfig holds the estimation card deck sent to clients on connect. The
// deck is advisory: casting a vote never validates the value against it.
type DeckConfig struct {
	File  string // optional YAML file overriding the default deck
	Cards []string
}

// deckFile is the YAML shape of an external deck file.
type deckFile struct {
	Cards []string `yaml:"cards"`
}

// DefaultDeck is the card set used when no deck file is configured.
var DefaultDeck = []string{"1", "2", "3", "5", "8", "13", "21", "?"}

// Load reads configuration from environment, with optional .env file, and the
// deck file when DECK_FILE is set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Session: SessionConfig{
			TTLMinutes:             getEnvInt("SESSION_TTL_MINUTES", 0),
			CleanupIntervalMinutes: getEnvInt("SESSION_CLEANUP_INTERVAL_MINUTES", 30),
		},
		Deck: DeckConfig{
			File:  getEnv("DECK_FILE", ""),
			Cards: DefaultDeck,
		},
	}

	if cfg.Deck.File != "" {
		cards, err := loadDeck(cfg.Deck.File)
		if err != nil {
			return nil, err
		}
		cfg.Deck.Cards = cards
	}
	return cfg, nil
}

// loadDeck reads a YAML deck file of the form:
//
//	cards: ["1", "2", "3", "5", "8", "13", "21", "?"]
func loadDeck(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var df deckFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, err
	}
	cards := make([]string, 0, len(df.Cards))
	for _, card := range df.Cards {
		if c := strings.TrimSpace(card); c != "" {
			cards = append(cards, c)
		}
	}
	if len(cards) == 0 {
		return DefaultDeck, nil
	}
	return cards, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
