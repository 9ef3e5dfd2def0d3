package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jsbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}

	if cfg.MetricsEnabled {
		t.Errorf("Metrics should be disabled by default")
	}

	if cfg.MetricsPort != 9090 {
		t.Errorf("Default metrics port mismatch: got %d, want 9090", cfg.MetricsPort)
	}

	if len(cfg.BindingPaths) != 1 || cfg.BindingPaths[0] != "./bindings" {
		t.Errorf("Default binding paths mismatch: got %v, want [./bindings]", cfg.BindingPaths)
	}

	if cfg.IPC.Transport != TransportPipe {
		t.Errorf("Default transport mismatch: got %s, want pipe", cfg.IPC.Transport)
	}

	if !cfg.IPC.VerifyHeap || cfg.IPC.StrictHeap {
		t.Errorf("Default heap checks mismatch: verify=%v strict=%v", cfg.IPC.VerifyHeap, cfg.IPC.StrictHeap)
	}

	if cfg.IPC.CallTimeout != 0 {
		t.Errorf("Default call timeout mismatch: got %s, want 0s", cfg.IPC.CallTimeout)
	}

	if cfg.Guest.MemoryPages != 256 {
		t.Errorf("Default memory pages mismatch: got %d, want 256", cfg.Guest.MemoryPages)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
metrics_enabled: true
metrics_port: 8080
binding_paths: [./a, ./b]
ipc:
  transport: websocket
  call_timeout: 2s
  strict_heap: true
  queue_size: 8
guest:
  memory_pages: 32
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}

	if cfg.MetricsPort != 8080 {
		t.Errorf("Metrics port mismatch: got %d, want 8080", cfg.MetricsPort)
	}

	if len(cfg.BindingPaths) != 2 {
		t.Errorf("Binding paths mismatch: got %v", cfg.BindingPaths)
	}

	if cfg.IPC.Transport != TransportWebSocket {
		t.Errorf("Transport mismatch: got %s, want websocket", cfg.IPC.Transport)
	}

	if cfg.IPC.CallTimeout != 2*time.Second {
		t.Errorf("Call timeout mismatch: got %s, want 2s", cfg.IPC.CallTimeout)
	}

	rc := cfg.IPC.Runtime()
	if !rc.StrictHeap || !rc.VerifyHeap || rc.CallTimeout != 2*time.Second {
		t.Errorf("Runtime config mismatch: %+v", rc)
	}

	if gc := cfg.Guest.Runtime(); gc.MemoryPages != 32 {
		t.Errorf("Guest memory pages mismatch: got %d, want 32", gc.MemoryPages)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JSBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("JSBRIDGE_IPC_TRANSPORT", "longpoll")
	t.Setenv("JSBRIDGE_IPC_TEXT_FRAMING", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}
	if cfg.IPC.Transport != TransportLongPoll {
		t.Errorf("Transport mismatch: got %s, want longpoll", cfg.IPC.Transport)
	}
	if !cfg.IPC.TextFraming {
		t.Errorf("Text framing should be enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"transport", "ipc:\n  transport: carrier-pigeon\n", "ipc.transport"},
		{"guest without module", "ipc:\n  transport: guest\n", "guest.module"},
		{"log level", "log_level: loud\n", "log_level"},
		{"queue size", "ipc:\n  queue_size: 0\n", "ipc.queue_size"},
		{"metrics port", "metrics_enabled: true\nmetrics_port: 70000\n", "metrics_port"},
		{"memory pages", "guest:\n  memory_pages: 0\n", "guest.memory_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Key != tt.key {
				t.Errorf("Key mismatch: got %s, want %s", verr.Key, tt.key)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}
