// Package config holds the runloop's tunable knobs: per-tick work budgets for
// each lane, and the control surface's port/token/enable switch. Unlike the
// source app's settings, nothing here is persisted — the engine is
// reconfigured at Init from flags/env and held in memory for the process
// lifetime, matching the "no persisted state" rule that governs the lanes
// themselves.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// Tunables holds every knob the runloop shell and control surface read.
// Zero-value Tunables is invalid; use Defaults to obtain a usable value.
type Tunables struct {
	// NbioStepsPerTick is how many nbio.Iterate calls the file lane drives
	// per Tick while TRANSFERRING (spec's pos_increment).
	NbioStepsPerTick int

	// PNGChunkDivisor / PNGProcessDivisor configure the image lane's
	// pos_increment = max(1, len/PNGChunkDivisor) and processing_pos_increment
	// = max(1, len/PNGProcessDivisor), per the design note that the hard-coded
	// /2 and /4 constants belong in a configuration record.
	PNGChunkDivisor   int
	PNGProcessDivisor int

	// EnableControl, ControlPort and ControlToken configure the loopback
	// admin surface; the server does not start when EnableControl is false.
	EnableControl        bool
	ControlPort          int
	ControlToken         string
	ControlMaxConcurrent int

	// EnableIntegrityCheck gates whether cb_file_integrity_check is allowed
	// to run at all; when false the tag is rejected at Post time.
	EnableIntegrityCheck bool

	// UserAgent overrides the HTTP lane's default User-Agent when non-empty.
	UserAgent string

	// BandwidthLimitBytesPerSec seeds network.BandwidthManager before any
	// calibration runs; 0 means unlimited until/unless Calibrate overrides it.
	BandwidthLimitBytesPerSec int
}

// Defaults returns the tunables the teacher's settings.go used as fallbacks,
// translated from the original's DB-backed getters into static defaults,
// plus a freshly generated control token.
func Defaults() Tunables {
	return Tunables{
		NbioStepsPerTick:          5,
		PNGChunkDivisor:           2,
		PNGProcessDivisor:         4,
		EnableControl:             false,
		ControlPort:               4444,
		ControlToken:              generateSecureToken(),
		ControlMaxConcurrent:      4,
		EnableIntegrityCheck:      true,
		UserAgent:                 "",
		BandwidthLimitBytesPerSec: 0,
	}
}

// FromEnv starts from Defaults and overlays any DATARUNLOOP_* environment
// variables that are set, for the cmd/runloopd entry point.
func FromEnv() Tunables {
	t := Defaults()

	if v := os.Getenv("DATARUNLOOP_CONTROL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.ControlPort = n
		}
	}
	if v := os.Getenv("DATARUNLOOP_CONTROL_TOKEN"); v != "" {
		t.ControlToken = v
	}
	if v := os.Getenv("DATARUNLOOP_ENABLE_CONTROL"); v != "" {
		t.EnableControl = v == "true" || v == "1"
	}
	if v := os.Getenv("DATARUNLOOP_USER_AGENT"); v != "" {
		t.UserAgent = v
	}
	if v := os.Getenv("DATARUNLOOP_BANDWIDTH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.BandwidthLimitBytesPerSec = n
		}
	}

	return t
}

func generateSecureToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "datarunloop-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}
