package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	logger.WithComponent("msp").Info("request complete", "status", 200)

	line := buf.String()
	if !strings.Contains(line, "boxwatch[") {
		t.Errorf("missing process prefix: %q", line)
	}
	if !strings.Contains(line, "[info]") {
		t.Errorf("missing level: %q", line)
	}
	if !strings.Contains(line, "msp: request complete") {
		t.Errorf("component not promoted to header: %q", line)
	}
	if !strings.Contains(line, "status=200") {
		t.Errorf("missing attribute: %q", line)
	}
}

func TestLogger_QuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.Info("rule paused", "description", "Block Internet for Xbox")

	if !strings.Contains(buf.String(), `description="Block Internet for Xbox"`) {
		t.Errorf("value with spaces not quoted: %q", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("low-severity entries not filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn entry missing: %q", out)
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not take effect")
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	logger.WithComponent("coordinator").Info("snapshot replaced", "generation", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "snapshot replaced" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["component"] != "coordinator" {
		t.Errorf("unexpected component: %v", record["component"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		rb.Add(AppLogEntry{Message: msg, Source: "test"})
	}

	all := rb.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Errorf("wrong chronological order: %v", all)
	}

	last := rb.GetLast(2)
	if len(last) != 2 || last[0].Message != "c" || last[1].Message != "d" {
		t.Errorf("GetLast wrong: %v", last)
	}
}

func TestRingBuffer_GetBySource(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(AppLogEntry{Message: "one", Source: "msp"})
	rb.Add(AppLogEntry{Message: "two", Source: "api"})
	rb.Add(AppLogEntry{Message: "three", Source: "msp"})

	got := rb.GetBySource("msp", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 msp entries, got %d", len(got))
	}
	if got[0].Message != "one" || got[1].Message != "three" {
		t.Errorf("wrong entries: %v", got)
	}
}
