package services

import (
	"fmt"
	"net/http"
	"strings"

	"stagehand/internal/api"
	"stagehand/internal/health"
)

// ProbeConfig is the `health` block shared by service kinds.
type ProbeConfig struct {
	// Type is tcp, http, grpc or none
	Type string `yaml:"type"`
	// Path is the HTTP path for http probes
	Path string `yaml:"path"`
	// Service is the grpc.health.v1 service name for grpc probes
	Service string `yaml:"service"`

	health.Options `yaml:",inline"`
}

// Build returns the probe for a service listening at loc. An empty type uses
// fallback.
func (p ProbeConfig) Build(loc api.ServiceLocation, fallback string) (health.Probe, error) {
	kind := strings.ToLower(p.Type)
	if kind == "" {
		kind = fallback
	}

	switch kind {
	case "tcp":
		return health.TCPProbe(loc.HostPort()), nil
	case "http":
		path := p.Path
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		scheme := loc.Protocol
		if scheme != "https" {
			scheme = "http"
		}
		return health.HTTPProbe(&http.Client{}, fmt.Sprintf("%s://%s%s", scheme, loc.HostPort(), path)), nil
	case "grpc":
		return health.GRPCProbe(loc.HostPort(), p.Service), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown health probe type %q", p.Type)
	}
}
