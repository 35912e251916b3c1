package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestConfigureDefaultsToInfoOnBadLevel(t *testing.T) {
	logger := Configure(Options{Level: "not-a-level"})
	if logger.GetLevel() != log.InfoLevel {
		t.Errorf("expected info level fallback, got %v", logger.GetLevel())
	}
}

func TestConfigureAppliesRequestedLevel(t *testing.T) {
	logger := Configure(Options{Level: "debug"})
	if logger.GetLevel() != log.DebugLevel {
		t.Errorf("expected debug level, got %v", logger.GetLevel())
	}
}

func TestAccessEntryEmitsJSONWithExpectedFields(t *testing.T) {
	logger := Configure(Options{Level: "info"})
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	AccessEntry("corr-1", "route-1", "GET", "/widgets", 200, 12.5)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected a single JSON log line, got %q: %v", buf.String(), err)
	}
	for _, field := range []string{"correlation_id", "route_id", "method", "path", "status", "duration_ms"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("expected field %q in access log entry, got %v", field, decoded)
		}
	}
	if !strings.Contains(buf.String(), "\"msg\":\"request\"") {
		t.Errorf("expected msg=request, got %q", buf.String())
	}
}
