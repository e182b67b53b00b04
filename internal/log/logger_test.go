package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigureAndComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "coordd-test"})

	logger := WithComponent("locks")
	logger.Info().Str("lock", "resource:pytest").Msg("lock acquired")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "locks" {
		t.Errorf("expected component=locks, got %v", entry["component"])
	}
	if entry["lock"] != "resource:pytest" {
		t.Errorf("expected lock field, got %v", entry["lock"])
	}
	if entry["message"] != "lock acquired" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
}

func TestBaseIsUsableWithoutConfigure(t *testing.T) {
	// Must not panic even when Configure was never called explicitly.
	logger := Base()
	logger.Debug().Msg("implicit configuration")
}
