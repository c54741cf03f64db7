// Package runtime adapts github.com/docker/docker/client to the narrow
// surface the controller needs (discovery, inspection, events, exec),
// so the rest of the codebase depends on this interface instead of the
// Docker SDK directly.
package runtime

import "context"

// ContainerSummary is the subset of a running container's metadata the
// controller's discovery pass needs.
type ContainerSummary struct {
	ID     string
	Name   string
	Labels map[string]string
}

// NetworkEndpoint is one entry of a container's attached networks.
type NetworkEndpoint struct {
	IPAddress string
}

// ContainerDetails is the subset of `inspect` output Instance construction
// needs: labels (merged with any config overlay by the caller) and the
// network map used for address/port selection.
type ContainerDetails struct {
	ID       string
	Name     string
	Labels   map[string]string
	Networks map[string]NetworkEndpoint
}

// EventAction enumerates the container lifecycle actions the controller
// reacts to; every other action is ignored.
type EventAction string

const (
	EventStart   EventAction = "start"
	EventUnpause EventAction = "unpause"
	EventStop    EventAction = "stop"
	EventPause   EventAction = "pause"
	EventKill    EventAction = "kill"
	EventDie     EventAction = "die"
)

// Event is one container lifecycle notification from the runtime's event
// stream.
type Event struct {
	Action      EventAction
	ContainerID string
}

// Client is the runtime surface the controller depends on. The only
// implementation wraps github.com/docker/docker/client; tests use a fake.
type Client interface {
	// Ping verifies the runtime is reachable and speaks a compatible API.
	Ping(ctx context.Context) error
	// ListContainers returns running containers matching labelFilter (an
	// exact-match AND of label=value pairs).
	ListContainers(ctx context.Context, labelFilter map[string]string) ([]ContainerSummary, error)
	// InspectContainer fetches full details for one container by id.
	InspectContainer(ctx context.Context, id string) (ContainerDetails, error)
	// Events streams lifecycle events for containers matching labelFilter
	// until ctx is canceled. The error channel receives at most one error,
	// after which both channels are closed.
	Events(ctx context.Context, labelFilter map[string]string) (<-chan Event, <-chan error)
	// Exec starts cmd as user inside the container. Used to invoke the
	// registry's garbage collector. The Docker implementation returns once
	// the exec has been started; it does not wait for cmd to finish and
	// does not check its exit code.
	Exec(ctx context.Context, containerID string, cmd []string, user string) error
}
