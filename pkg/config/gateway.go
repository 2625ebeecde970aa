package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcrelay/mcp-gateway/internal/connmgr"
)

// GatewayConfig holds the process-level settings read from the environment
// and an optional on-disk overlay file, alongside the connmgr.Options
// tunables (spec.md §3).
type GatewayConfig struct {
	ListenAddr         string
	ConfigStorePath    string
	Options            connmgr.Options
	BootstrapEndpoints []string
}

// gatewayFile is the optional YAML overlay loaded before environment
// variables are applied, mirroring the file-then-env layering in
// 2lar-b2's internal/config/loader.go (base file first, environment
// variables last so they always win).
type gatewayFile struct {
	ListenAddr           string   `yaml:"listenAddr"`
	ConfigStorePath      string   `yaml:"configStorePath"`
	Endpoints            []string `yaml:"endpoints"`
	ReconnectIntervalMS  int      `yaml:"reconnectIntervalMs"`
	MaxReconnectAttempts *int     `yaml:"maxReconnectAttempts"`
	ConnectionTimeoutMS  int      `yaml:"connectionTimeoutMs"`
}

// loadGatewayFile reads the YAML overlay at path. A missing file is not an
// error — the YAML layer is optional and every field defaults to the
// env/DefaultOptions layer beneath it.
func loadGatewayFile(path string) (*gatewayFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var fc gatewayFile
	if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// GatewayConfigFromEnv builds a GatewayConfig by layering, lowest to
// highest priority: connmgr.DefaultOptions(), the YAML file named by
// GATEWAY_CONFIG_FILE (default "gateway.yaml", silently skipped if
// absent), then individual environment variables.
func GatewayConfigFromEnv() GatewayConfig {
	opts := connmgr.DefaultOptions()
	listenAddr := ":8080"
	storePath := "endpoints.json"
	var bootstrapEndpoints []string

	filePath := os.Getenv("GATEWAY_CONFIG_FILE")
	if filePath == "" {
		filePath = "gateway.yaml"
	}
	if fc, err := loadGatewayFile(filePath); err == nil && fc != nil {
		if fc.ListenAddr != "" {
			listenAddr = fc.ListenAddr
		}
		if fc.ConfigStorePath != "" {
			storePath = fc.ConfigStorePath
		}
		if fc.ReconnectIntervalMS > 0 {
			opts.ReconnectInterval = time.Duration(fc.ReconnectIntervalMS) * time.Millisecond
		}
		if fc.MaxReconnectAttempts != nil {
			opts.MaxReconnectAttempts = *fc.MaxReconnectAttempts
		}
		if fc.ConnectionTimeoutMS > 0 {
			opts.ConnectionTimeout = time.Duration(fc.ConnectionTimeoutMS) * time.Millisecond
		}
		bootstrapEndpoints = fc.Endpoints
	}

	if v := os.Getenv("RECONNECT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			opts.ReconnectInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("CONNECTION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			opts.ConnectionTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		listenAddr = v
	}
	if v := os.Getenv("GATEWAY_CONFIG_STORE"); v != "" {
		storePath = v
	}

	return GatewayConfig{
		ListenAddr:         listenAddr,
		ConfigStorePath:    storePath,
		Options:            opts,
		BootstrapEndpoints: bootstrapEndpoints,
	}
}
