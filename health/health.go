// Package health provides the agent's built-in liveness service.
//
// It answers on /Agent/Check with an empty success payload, and on
// /Agent/Version with the build's version string, so an orchestrator can
// probe a freshly booted guest before driving real workloads.
package health

import (
	"context"

	"agentrpc/message"
	"agentrpc/server"
)

// ServiceName is the service the probes register under.
const ServiceName = "Agent"

// Methods returns the liveness probe handlers keyed by method name, ready
// for Server.RegisterService.
func Methods(version string) map[string]server.Handler {
	return map[string]server.Handler{
		"Check": func(ctx context.Context, req *message.Request) ([]byte, error) {
			return nil, nil
		},
		"Version": func(ctx context.Context, req *message.Request) ([]byte, error) {
			return []byte(version), nil
		},
	}
}
