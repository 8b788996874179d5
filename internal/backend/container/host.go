package container

import (
	"fmt"
	"strings"

	"github.com/docker/docker/client"
)

// HostURL turns a caller-supplied engine endpoint into a client host URL.
// "tcp://", "http://" and "https://" select a remote engine; anything else is
// a local socket, given either as a "unix://" URL or a bare path.
func HostURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return "", fmt.Errorf("empty engine endpoint")
	case strings.HasPrefix(endpoint, "tcp://"):
		return endpoint, nil
	case strings.HasPrefix(endpoint, "http://"):
		return "tcp://" + strings.TrimPrefix(endpoint, "http://"), nil
	case strings.HasPrefix(endpoint, "https://"):
		return "tcp://" + strings.TrimPrefix(endpoint, "https://"), nil
	case strings.HasPrefix(endpoint, "unix://"):
		return endpoint, nil
	case strings.Contains(endpoint, "://"):
		return "", fmt.Errorf("unsupported engine endpoint scheme in %q", endpoint)
	default:
		return "unix://" + endpoint, nil
	}
}

// Dialer opens an engine client for one call.
type Dialer func(endpoint string) (EngineClient, error)

// DialEngine is the default Dialer. It connects to the Docker Engine API at
// endpoint, negotiating the API version with the daemon.
func DialEngine(endpoint string) (EngineClient, error) {
	host, err := HostURL(endpoint)
	if err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine client for %s: %w", host, err)
	}
	return cli, nil
}
