package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
)

// DockerClient implements Client against a real Docker-compatible engine
// via the Docker SDK.
type DockerClient struct {
	cli *dockerclient.Client
}

// NewDockerClient builds a DockerClient from the environment (DOCKER_HOST,
// DOCKER_CERT_PATH, etc.), mirroring dockerclient.NewClientWithOpts'
// conventional FromEnv usage.
func NewDockerClient() (*DockerClient, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerClient{cli: cli}, nil
}

func (d *DockerClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func labelFilterArgs(labelFilter map[string]string) filters.Args {
	args := filters.NewArgs()
	for key, value := range labelFilter {
		args.Add("label", key+"="+value)
	}
	return args
}

func (d *DockerClient) ListContainers(ctx context.Context, labelFilter map[string]string) ([]ContainerSummary, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{Filters: labelFilterArgs(labelFilter)})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	out := make([]ContainerSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ContainerSummary{
			ID:     s.ID,
			Name:   strings.TrimPrefix(firstOrEmpty(s.Names), "/"),
			Labels: s.Labels,
		})
	}
	return out, nil
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (d *DockerClient) InspectContainer(ctx context.Context, id string) (ContainerDetails, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerDetails{}, fmt.Errorf("inspecting container %s: %w", id, err)
	}

	networks := make(map[string]NetworkEndpoint)
	if info.NetworkSettings != nil {
		for name, endpoint := range info.NetworkSettings.Networks {
			networks[name] = NetworkEndpoint{IPAddress: endpoint.IPAddress}
		}
	}

	var labels map[string]string
	if info.Config != nil {
		labels = info.Config.Labels
	}

	return ContainerDetails{
		ID:       info.ID,
		Name:     strings.TrimPrefix(info.Name, "/"),
		Labels:   labels,
		Networks: networks,
	}, nil
}

func (d *DockerClient) Events(ctx context.Context, labelFilter map[string]string) (<-chan Event, <-chan error) {
	args := labelFilterArgs(labelFilter)
	args.Add("type", "container")

	raw, rawErr := d.cli.Events(ctx, types.EventsOptions{Filters: args})

	out := make(chan Event)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-rawErr:
				if !ok {
					return
				}
				if err != nil {
					errs <- err
				}
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				action := normalizeAction(msg.Action)
				if action == "" {
					continue
				}
				select {
				case out <- Event{Action: action, ContainerID: msg.Actor.ID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

// normalizeAction maps a raw Docker event action (which may carry a
// ": <detail>" suffix, e.g. "health_status: healthy"; only the part before
// the colon is compared) onto the subset the controller reacts to;
// anything else yields "" and is dropped by the caller.
func normalizeAction(action events.Action) EventAction {
	switch EventAction(strings.SplitN(string(action), ":", 2)[0]) {
	case EventStart:
		return EventStart
	case EventUnpause:
		return EventUnpause
	case EventStop:
		return EventStop
	case EventPause:
		return EventPause
	case EventKill:
		return EventKill
	case EventDie:
		return EventDie
	default:
		return ""
	}
}

func (d *DockerClient) Exec(ctx context.Context, containerID string, cmd []string, user string) error {
	exec, err := d.cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:  cmd,
		User: user,
	})
	if err != nil {
		return fmt.Errorf("creating exec in %s: %w", containerID, err)
	}

	if err := d.cli.ContainerExecStart(ctx, exec.ID, types.ExecStartCheck{}); err != nil {
		return fmt.Errorf("starting exec in %s: %w", containerID, err)
	}
	return nil
}
