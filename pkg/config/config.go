// Package config holds the runtime settings for MalGuard. Defaults come
// from environment variables; a YAML policy file can overlay the URL and
// command policy knobs for air-gapped or fleet-managed deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds global settings for the MalGuard triage engine.
// All settings can be configured via environment variables, a YAML policy
// file, or programmatically.
type Config struct {
	// === Core settings ===
	AuditLogPath string // Path to the JSONL audit log (default: "malguard_audit.jsonl")

	// === URL policy ===
	TrustedDomains []string // Registrable domains treated as trusted (exact or subdomain)
	BlockedTLDs    []string // Top-level labels rejected outright
	AllowedSchemes []string // URL schemes accepted by validation
	MaxURLLength   int      // Reject URLs longer than this after sanitization

	// === Command policy ===
	MaxCmdLength   int    // Reject commands longer than this after sanitization
	ForbiddenChars string // Shell metacharacters rejected by command validation

	// === Model artifacts ===
	URLModelPath    string // ONNX model directory for the URL classifier
	CmdModelPath    string // ONNX model directory for the command classifier
	EmbedModelPath  string // ONNX feature-extraction model for the semantic index
	OnnxLibraryPath string // Optional libonnxruntime location

	// === Feature flags ===
	EnableAugmenter bool // Append NLP meta-tokens before model prediction
	EnableSemantics bool // Annotate verdicts with nearest known technique

	// === History signal (optional) ===
	RedisAddr        string // Redis address for the command-frequency store; empty disables
	HistoryThreshold int64  // Sightings after which the history signal fires

	// === Offline labeling ===
	PostgresDSN string // Optional DSN for persisting labeled training rows

	// === Serve mode ===
	ListenAddr     string        // HTTP listen address for serve mode
	RequestTimeout time.Duration // Per-request deadline for model prediction
}

// NewDefaultConfig creates a Config with sensible defaults. All settings can
// be overridden via MALGUARD_* environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		AuditLogPath: GetEnv("MALGUARD_AUDIT_LOG", "malguard_audit.jsonl"),

		TrustedDomains: GetEnvSlice("MALGUARD_TRUSTED_DOMAINS", []string{
			"github.com", "google.com", "microsoft.com", "youtube.com", "docs.python.org",
		}),
		BlockedTLDs:    GetEnvSlice("MALGUARD_BLOCKED_TLDS", []string{"ru", "zip", "mov"}),
		AllowedSchemes: GetEnvSlice("MALGUARD_ALLOWED_SCHEMES", []string{"http", "https", "ftp"}),
		MaxURLLength:   GetEnvInt("MALGUARD_MAX_URL_LENGTH", 2048),

		MaxCmdLength:   GetEnvInt("MALGUARD_MAX_CMD_LENGTH", 8192),
		ForbiddenChars: GetEnv("MALGUARD_FORBIDDEN_CHARS", ";&|`$><\n\r^%"),

		URLModelPath:    GetEnv("MALGUARD_URL_MODEL", "./models/url-classifier"),
		CmdModelPath:    GetEnv("MALGUARD_CMD_MODEL", "./models/cmd-classifier"),
		EmbedModelPath:  GetEnv("MALGUARD_EMBED_MODEL", "./models/embedder"),
		OnnxLibraryPath: GetEnv("MALGUARD_ONNX_LIB", ""),

		EnableAugmenter: GetEnvBool("MALGUARD_ENABLE_AUGMENTER", true),
		EnableSemantics: GetEnvBool("MALGUARD_ENABLE_SEMANTICS", false),

		RedisAddr:        GetEnv("MALGUARD_REDIS_ADDR", ""),
		HistoryThreshold: int64(GetEnvInt("MALGUARD_HISTORY_THRESHOLD", 5)),

		PostgresDSN: GetEnv("MALGUARD_POSTGRES_DSN", ""),

		ListenAddr:     GetEnv("MALGUARD_LISTEN_ADDR", ":3000"),
		RequestTimeout: time.Duration(GetEnvInt("MALGUARD_REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
	}
}

// policyFile is the YAML overlay schema. Only present keys override the
// config; absent keys keep their env/default values.
type policyFile struct {
	TrustedDomains []string `yaml:"trusted_domains"`
	BlockedTLDs    []string `yaml:"blocked_tlds"`
	AllowedSchemes []string `yaml:"allowed_schemes"`
	MaxURLLength   *int     `yaml:"max_url_length"`
	MaxCmdLength   *int     `yaml:"max_cmd_length"`
	ForbiddenChars *string  `yaml:"forbidden_chars"`
}

// LoadPolicy overlays a YAML policy file onto the config.
func (c *Config) LoadPolicy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if len(pf.TrustedDomains) > 0 {
		c.TrustedDomains = pf.TrustedDomains
	}
	if len(pf.BlockedTLDs) > 0 {
		c.BlockedTLDs = pf.BlockedTLDs
	}
	if len(pf.AllowedSchemes) > 0 {
		c.AllowedSchemes = pf.AllowedSchemes
	}
	if pf.MaxURLLength != nil {
		c.MaxURLLength = *pf.MaxURLLength
	}
	if pf.MaxCmdLength != nil {
		c.MaxCmdLength = *pf.MaxCmdLength
	}
	if pf.ForbiddenChars != nil {
		c.ForbiddenChars = *pf.ForbiddenChars
	}
	return nil
}

// Validate checks internal consistency of the policy values.
func (c *Config) Validate() error {
	if c.MaxURLLength <= 0 {
		return fmt.Errorf("max_url_length must be positive, got %d", c.MaxURLLength)
	}
	if c.MaxCmdLength <= 0 {
		return fmt.Errorf("max_cmd_length must be positive, got %d", c.MaxCmdLength)
	}
	if len(c.AllowedSchemes) == 0 {
		return fmt.Errorf("allowed_schemes must not be empty")
	}
	for _, d := range c.TrustedDomains {
		if d == "" || strings.HasPrefix(d, ".") || strings.HasSuffix(d, ".") {
			return fmt.Errorf("invalid trusted domain %q", d)
		}
	}
	return nil
}

// Helper functions for environment variable parsing.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
