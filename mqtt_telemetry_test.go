package main

import (
	"context"
	"strings"
	"testing"
)

func TestNewMQTTTelemetryWithoutBrokerIsOptedOut(t *testing.T) {
	telemetry, err := NewMQTTTelemetry(MQTTConfig{})
	if err != nil {
		t.Fatalf("expected no error for an unconfigured broker, got %v", err)
	}
	if telemetry != nil {
		t.Error("expected a nil telemetry publisher when no broker is configured")
	}
}

func TestGenerateTelemetryClientIDHasExpectedPrefixAndIsUnique(t *testing.T) {
	a := generateTelemetryClientID()
	b := generateTelemetryClientID()
	if !strings.HasPrefix(a, "wsjtx-hub_") || !strings.HasPrefix(b, "wsjtx-hub_") {
		t.Errorf("expected the wsjtx-hub_ prefix, got %q and %q", a, b)
	}
	if a == b {
		t.Error("expected two generated client ids to differ")
	}
}

func TestNilTelemetryPublishersAreNoOps(t *testing.T) {
	var telemetry *MQTTTelemetry
	telemetry.PublishQSO(QSORecord{Callsign: "W1ABCXX"})
	telemetry.PublishDecode("A", InternalDecodeRecord{Callsign: "W1ABCXX"})
	telemetry.Disconnect(context.Background())
}
