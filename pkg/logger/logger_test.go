package logx

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Not parallel: Init replaces the global logger.
func TestInitLevels(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	Init(Config{Debug: true})
	if log.Logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("debug config should set debug level, got %s", log.Logger.GetLevel())
	}

	Init()
	if log.Logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("default config should set info level, got %s", log.Logger.GetLevel())
	}

	l := Component("payment")
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("component logger should inherit level, got %s", l.GetLevel())
	}
}
