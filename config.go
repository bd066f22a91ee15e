package idevice

import (
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Config holds the small set of environment-driven knobs the core reads at
// startup. There is no config file format; callers that want one layer it
// on top, the way the teacher's cmd layer layers CLI flags on top of its
// own config.go.
type Config struct {
	PairRecordDir string
	UsbTimeoutMs  int
	LogLevel      log.Level
}

// DefaultConfig reads IDEVICE_PAIR_RECORD_DIR, IDEVICE_USB_TIMEOUT_MS and
// IDEVICE_LOG_LEVEL from the environment, falling back to documented
// defaults for anything unset or unparsable.
func DefaultConfig() Config {
	cfg := Config{
		PairRecordDir: defaultPairRecordDir(),
		UsbTimeoutMs:  5000,
		LogLevel:      log.InfoLevel,
	}
	if v := os.Getenv("IDEVICE_PAIR_RECORD_DIR"); v != "" {
		cfg.PairRecordDir = v
	}
	if v := os.Getenv("IDEVICE_USB_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.UsbTimeoutMs = ms
		}
	}
	if v := os.Getenv("IDEVICE_LOG_LEVEL"); v != "" {
		if lvl, err := log.ParseLevel(v); err == nil {
			cfg.LogLevel = lvl
		}
	}
	return cfg
}

func defaultPairRecordDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".idevice/pair_records"
	}
	return filepath.Join(home, ".idevice", "pair_records")
}
