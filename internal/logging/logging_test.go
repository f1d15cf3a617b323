package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("connection")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "remote", "203.0.113.4:51422")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=connection") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "remote=203.0.113.4:51422") {
		t.Fatalf("expected remote field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("connection")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestWithSessionAddsSessionID(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithSession(L("connection"), "sess-42")
	logger.Info("handshake complete")

	out := buf.String()
	if !strings.Contains(out, "sessionId=sess-42") {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("pipeline").Info("keyframe forced")

	out := buf.String()
	if !strings.Contains(out, `"component":"pipeline"`) {
		t.Fatalf("expected json component field, got: %s", out)
	}
}
