package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	if New("debug").GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	if New("nonsense").GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback")
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", &buf)
	log.WithField("hike_id", "hike-1").Info("hike created")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "hike created" || entry["hike_id"] != "hike-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}
