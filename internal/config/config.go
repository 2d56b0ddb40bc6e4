// Package config consolidates the environment knobs read once at startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every environment-level setting the service needs.
type Config struct {
	Addr          string // listen address, default ":8080"
	PGDSN         string // empty means in-memory demo mode
	EnvPrefix     string // deployment-stage tag prefixed to assertion ids, e.g. "dev"
	PublicBaseURL string // base for hosted verification URLs
	History       bool   // enable append-only history events

	RendererURL string // HTML->PDF rendering service endpoint
	CoverPDFURL string // cover/table-of-contents document merged ahead of the grid

	MailURL  string // mail API endpoint; empty disables award emails
	MailKey  string
	MailFrom string

	HTTPTimeout time.Duration
}

// FromEnv reads the configuration from BACKPACK_* environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:          getenv("BACKPACK_ADDR", ":8080"),
		PGDSN:         strings.TrimSpace(os.Getenv("BACKPACK_PG_DSN")),
		EnvPrefix:     getenv("BACKPACK_ENV_PREFIX", "dev"),
		PublicBaseURL: strings.TrimRight(getenv("BACKPACK_PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		History:       boolenv("BACKPACK_HISTORY"),
		RendererURL:   strings.TrimSpace(os.Getenv("BACKPACK_RENDERER_URL")),
		CoverPDFURL:   strings.TrimSpace(os.Getenv("BACKPACK_COVER_PDF_URL")),
		MailURL:       strings.TrimSpace(os.Getenv("BACKPACK_MAIL_URL")),
		MailKey:       strings.TrimSpace(os.Getenv("BACKPACK_MAIL_KEY")),
		MailFrom:      getenv("BACKPACK_MAIL_FROM", "backpack@localhost"),
		HTTPTimeout:   durenv("BACKPACK_HTTP_TIMEOUT_SECONDS", 30*time.Second),
	}
	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolenv(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func durenv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
