// Package observability exports bosonci runs as OpenTelemetry traces and
// Prometheus metrics.
package observability

import (
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Service identifies the exporting process. Every trace and metric series
// carries it, so runs from the docker and local backends can be told apart.
type Service struct {
	Name    string
	Runtime string
}

// RuntimeKey is the resource attribute holding the container backend.
const RuntimeKey = attribute.Key("bosonci.runtime")

func (s Service) resource() (*resource.Resource, error) {
	name := s.Name
	if name == "" {
		name = "bosonci"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ProcessPID(os.Getpid()),
	}
	if s.Runtime != "" {
		attrs = append(attrs, RuntimeKey.String(s.Runtime))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	// schemaless so the merge never conflicts with the SDK default's schema
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}
