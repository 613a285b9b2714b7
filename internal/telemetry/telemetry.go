// Package telemetry wraps go.opentelemetry.io/otel/trace spans around
// the daemon's enroll/verify pipelines, grounded on dittofs's
// internal/telemetry package (attribute-key constants plus small
// StartXSpan helpers around a package-level tracer). Unlike dittofs this
// daemon does not ship an OTLP exporter dependency; spans go to
// whatever TracerProvider otel.SetTracerProvider was last called with
// (a no-op provider unless the embedding process configures one), so
// spans are free to create even when nothing is listening.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/deepin-community/fprintd-go"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Attribute keys for device operations.
const (
	AttrDeviceID = "fprintd.device_id"
	AttrDriver   = "fprintd.driver"
	AttrUsername = "fprintd.username"
	AttrFinger   = "fprintd.finger"
	AttrResult   = "fprintd.result"
)

func DeviceID(id int) attribute.KeyValue   { return attribute.Int(AttrDeviceID, id) }
func Driver(name string) attribute.KeyValue { return attribute.String(AttrDriver, name) }
func Username(name string) attribute.KeyValue { return attribute.String(AttrUsername, name) }
func Finger(name string) attribute.KeyValue { return attribute.String(AttrFinger, name) }
func Result(name string) attribute.KeyValue { return attribute.String(AttrResult, name) }

// StartEnrollSpan starts a span covering one EnrollStart invocation.
func StartEnrollSpan(ctx context.Context, deviceID int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{DeviceID(deviceID)}, attrs...)
	return tracer().Start(ctx, "device.enroll", trace.WithAttributes(all...))
}

// StartVerifySpan starts a span covering one VerifyStart/Identify invocation.
func StartVerifySpan(ctx context.Context, deviceID int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{DeviceID(deviceID)}, attrs...)
	return tracer().Start(ctx, "device.verify", trace.WithAttributes(all...))
}

// StartGCSpan starts a span covering one on-device garbage collection pass.
func StartGCSpan(ctx context.Context, deviceID int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "device.gc", trace.WithAttributes(DeviceID(deviceID)))
}
