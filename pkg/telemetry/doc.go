// Package telemetry wires OpenTelemetry tracing and meters for the governor
// service.
//
// The tick pipeline itself never touches telemetry; the runtime loop records
// tick latency, mode transitions, rejected ticks and audit back-pressure after
// each tick has been published.
package telemetry
