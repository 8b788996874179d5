package container

import "github.com/docker/go-connections/nat"

const (
	// BackendName is the name used when registering with the backend registry.
	BackendName = "container"

	// WellKnownPort is the port the action proxy listens on inside every
	// runtime image.
	WellKnownPort = "8080"

	// DefaultNetwork is the engine's default bridge network. Containers join
	// it at creation, so it is never attached explicitly.
	DefaultNetwork = "bridge"

	// RootfulSocket is the engine socket of a privileged installation. Any
	// other endpoint is treated as rootless unless the caller says otherwise.
	RootfulSocket = "unix:///var/run/docker.sock"

	// LocalhostHost is the host a rootless container is reached on.
	LocalhostHost = "localhost"

	// killSignal is sent by Cleanup before removal.
	killSignal = "SIGKILL"
)

// Labels attached to every container created by the manager.
const (
	LabelFunction  = "fnworker.function"
	LabelNamespace = "fnworker.namespace"
)

// wellKnownPortKey is the published port key in inspected network settings.
var wellKnownPortKey = nat.Port(WellKnownPort + "/tcp")

// IsRootless reports whether an engine endpoint belongs to an unprivileged
// installation.
func IsRootless(endpoint string) bool {
	return endpoint != RootfulSocket
}
