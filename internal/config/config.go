// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all simulation and network settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"

	"netarena/internal/clock"
	"netarena/internal/predict"
	"netarena/internal/protocol"
	"netarena/internal/reliable"
	"netarena/internal/sim"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the world and tick settings shared by server and clients.
type SimConfig struct {
	TickRate    int     // Authoritative ticks per second
	Speed       float64 // Entity speed in units per tick at full intent
	WorldWidth  float64 // World bounds in units
	WorldHeight float64
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	world := sim.DefaultConfig()
	return SimConfig{
		TickRate:    60,
		Speed:       world.Speed,
		WorldWidth:  world.WorldWidth,
		WorldHeight: world.WorldHeight,
	}
}

// SimFromEnv returns simulation configuration with environment overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if s := getEnvFloat("SIM_SPEED", 0); s > 0 {
		cfg.Speed = s
	}
	if w := getEnvFloat("WORLD_WIDTH", 0); w > 0 {
		cfg.WorldWidth = w
	}
	if h := getEnvFloat("WORLD_HEIGHT", 0); h > 0 {
		cfg.WorldHeight = h
	}

	return cfg
}

// World converts to the simulation package's config.
func (c SimConfig) World() sim.Config {
	return sim.Config{
		Speed:       c.Speed,
		WorldWidth:  c.WorldWidth,
		WorldHeight: c.WorldHeight,
	}
}

// =============================================================================
// RELIABILITY CONFIGURATION
// =============================================================================

// NetConfig tunes the reliable delivery layer.
type NetConfig struct {
	AckTimeoutMillis int64 // Age before a pending packet is retransmitted
	MaxRetries       int   // Retransmissions before a packet counts as lost
	SeenCap          int   // Dedup set size before trimming
}

// DefaultNet returns the default reliability configuration.
func DefaultNet() NetConfig {
	base := reliable.DefaultConfig(protocol.TypeServerAck)
	return NetConfig{
		AckTimeoutMillis: base.AckTimeoutMillis,
		MaxRetries:       base.MaxRetries,
		SeenCap:          base.SeenCap,
	}
}

// NetFromEnv returns reliability configuration with environment overrides.
func NetFromEnv() NetConfig {
	cfg := DefaultNet()

	if t := getEnvInt("ACK_TIMEOUT_MS", 0); t > 0 {
		cfg.AckTimeoutMillis = int64(t)
	}
	if r := getEnvInt("MAX_RETRIES", 0); r > 0 {
		cfg.MaxRetries = r
	}
	if c := getEnvInt("SEEN_CAP", 0); c > 0 {
		cfg.SeenCap = c
	}

	return cfg
}

// Reliable converts to the reliable package's config for one side.
func (c NetConfig) Reliable(ackType protocol.Type) reliable.Config {
	return reliable.Config{
		AckTimeoutMillis: c.AckTimeoutMillis,
		MaxRetries:       c.MaxRetries,
		SeenCap:          c.SeenCap,
		AckType:          ackType,
	}
}

// =============================================================================
// CLOCK SYNC CONFIGURATION
// =============================================================================

// SyncConfig tunes the client clock synchronizer.
type SyncConfig struct {
	RTTWindow        int   // Samples in the jitter window
	OffsetJumpMillis int64 // Raw-offset delta that switches to fast blending
	MinSamples       int   // Samples required before sync counts as reliable
}

// DefaultSync returns the default clock sync configuration.
func DefaultSync() SyncConfig {
	base := clock.DefaultConfig(60)
	return SyncConfig{
		RTTWindow:        base.RTTWindow,
		OffsetJumpMillis: int64(base.OffsetJumpMillis),
		MinSamples:       base.MinSamples,
	}
}

// SyncFromEnv returns clock sync configuration with environment overrides.
func SyncFromEnv() SyncConfig {
	cfg := DefaultSync()

	if w := getEnvInt("SYNC_RTT_WINDOW", 0); w > 0 {
		cfg.RTTWindow = w
	}
	if j := getEnvInt("SYNC_OFFSET_JUMP_MS", 0); j > 0 {
		cfg.OffsetJumpMillis = int64(j)
	}
	if m := getEnvInt("SYNC_MIN_SAMPLES", 0); m > 0 {
		cfg.MinSamples = m
	}

	return cfg
}

// Clock converts to the clock package's config for the given tick rate.
func (c SyncConfig) Clock(tickRate int) clock.Config {
	cfg := clock.DefaultConfig(tickRate)
	cfg.RTTWindow = c.RTTWindow
	cfg.OffsetJumpMillis = float64(c.OffsetJumpMillis)
	cfg.MinSamples = c.MinSamples
	return cfg
}

// =============================================================================
// PREDICTION CONFIGURATION
// =============================================================================

// PredictConfig tunes client-side reconciliation.
type PredictConfig struct {
	ReconcileThreshold float64 // Divergence beyond which a rollback happens
	MaxBlendFactor     float64 // Strongest smoothing applied below the threshold
}

// DefaultPredict returns the default prediction configuration.
func DefaultPredict() PredictConfig {
	base := predict.DefaultConfig()
	return PredictConfig{
		ReconcileThreshold: base.ReconcileThreshold,
		MaxBlendFactor:     base.MaxBlendFactor,
	}
}

// PredictFromEnv returns prediction configuration with environment overrides.
func PredictFromEnv() PredictConfig {
	cfg := DefaultPredict()

	if t := getEnvFloat("RECONCILE_THRESHOLD", 0); t > 0 {
		cfg.ReconcileThreshold = t
	}
	if b := getEnvFloat("MAX_BLEND_FACTOR", 0); b > 0 {
		cfg.MaxBlendFactor = b
	}

	return cfg
}

// Engine converts to the predict package's config.
func (c PredictConfig) Engine() predict.Config {
	cfg := predict.DefaultConfig()
	cfg.ReconcileThreshold = c.ReconcileThreshold
	cfg.MaxBlendFactor = c.MaxBlendFactor
	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port       int
	MaxClients int // Hard cap on connected clients
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:       8080,
		MaxClients: 200,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mc := getEnvInt("MAX_CLIENTS", 0); mc > 0 {
		cfg.MaxClients = mc
	}

	return cfg
}

// =============================================================================
// JOURNAL CONFIGURATION
// =============================================================================

// JournalConfig holds the operational event log settings.
type JournalConfig struct {
	Enabled  bool
	FilePath string // JSONL output; empty keeps events in memory only
}

// DefaultJournal returns the default journal configuration.
func DefaultJournal() JournalConfig {
	return JournalConfig{
		Enabled:  true,
		FilePath: "netarena-journal.jsonl",
	}
}

// JournalFromEnv returns journal configuration with environment overrides.
func JournalFromEnv() JournalConfig {
	cfg := DefaultJournal()

	if os.Getenv("JOURNAL_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if p := os.Getenv("JOURNAL_PATH"); p != "" {
		cfg.FilePath = p
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim     SimConfig
	Net     NetConfig
	Sync    SyncConfig
	Predict PredictConfig
	Server  ServerConfig
	Journal JournalConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:     SimFromEnv(),
		Net:     NetFromEnv(),
		Sync:    SyncFromEnv(),
		Predict: PredictFromEnv(),
		Server:  ServerFromEnv(),
		Journal: JournalFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
