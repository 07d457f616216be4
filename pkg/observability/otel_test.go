package observability

import (
	"context"
	"io"
	"testing"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("InitOTel failed: %v", err)
	}
	if providers != nil {
		t.Error("Expected nil providers when disabled")
	}
}

func TestShutdownOTel_NilProviders(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	if err := ShutdownOTel(context.Background(), nil, logger); err != nil {
		t.Errorf("Expected nil error for nil providers, got %v", err)
	}
}

func TestUpdateLoggerWithTraceContext_NoSpan(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	if got := UpdateLoggerWithTraceContext(context.Background(), logger); got != logger {
		t.Error("Expected the same logger when no span is recording")
	}
}
