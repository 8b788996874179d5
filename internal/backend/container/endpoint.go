package container

import (
	"github.com/docker/docker/api/types"
)

// Endpoint is the reachable address of a running container.
type Endpoint struct {
	Host string `json:"host"`
	Port string `json:"port"`
}

// ResolveEndpoint extracts the reachable host and port from a container's
// network settings.
//
// Rootless engines have no routable bridge device, so the container is
// reached on localhost through the host port the engine bound to the
// well-known port. Rootful engines route the bridge IP directly, so the
// well-known port is used as is.
//
// The second result is false when the settings lack the bridge network (or
// its IP) in rootful mode, or the port binding in rootless mode. Callers must
// treat that as a provisioning failure.
func ResolveEndpoint(ns *types.NetworkSettings, rootless bool) (Endpoint, bool) {
	if ns == nil {
		return Endpoint{}, false
	}

	if rootless {
		port, ok := boundHostPort(ns)
		if !ok {
			return Endpoint{}, false
		}
		return Endpoint{Host: LocalhostHost, Port: port}, true
	}

	bridge, ok := ns.Networks[DefaultNetwork]
	if !ok || bridge == nil || bridge.IPAddress == "" {
		return Endpoint{}, false
	}
	return Endpoint{Host: bridge.IPAddress, Port: WellKnownPort}, true
}

// boundHostPort returns the host port published for the well-known port,
// preferring the binding on the wildcard address.
func boundHostPort(ns *types.NetworkSettings) (string, bool) {
	bindings := ns.Ports[wellKnownPortKey]
	if len(bindings) == 0 {
		return "", false
	}
	for _, b := range bindings {
		if (b.HostIP == "0.0.0.0" || b.HostIP == "") && b.HostPort != "" {
			return b.HostPort, true
		}
	}
	if bindings[0].HostPort == "" {
		return "", false
	}
	return bindings[0].HostPort, true
}
