package docker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// CloneOfLabel marks a container created by Clone with the id of its source.
const CloneOfLabel = "lighthouse.clone-of"

// MinMemoryBytes is the smallest memory limit the Docker daemon accepts.
const MinMemoryBytes int64 = 6 * 1024 * 1024

var cpusetRe = regexp.MustCompile(`^\d+(-\d+)?(,\d+(-\d+)?)*$`)

// dockerAPI is the part of *client.Client the adapter uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerUpdate(ctx context.Context, containerID string, updateConfig container.UpdateConfig) (container.ContainerUpdateOKBody, error)
	NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli            dockerAPI
	defaultNetwork string
	memoryFloor    int64
	execPoll       time.Duration
	log            *zap.Logger
}

type Option func(*Adapter)

// WithDefaultNetwork names the network new containers land on automatically.
func WithDefaultNetwork(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.defaultNetwork = name
		}
	}
}

// WithMemoryFloor overrides the smallest accepted memory limit.
func WithMemoryFloor(bytes int64) Option {
	return func(a *Adapter) {
		if bytes > 0 {
			a.memoryFloor = bytes
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter(opts ...Option) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapter(cli, opts...), nil
}

func newAdapter(cli dockerAPI, opts ...Option) *Adapter {
	a := &Adapter{
		cli:            cli,
		defaultNetwork: domain.DefaultNetwork,
		memoryFloor:    MinMemoryBytes,
		execPoll:       100 * time.Millisecond,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// List returns the running containers.
func (a *Adapter) List(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, runtimeErr("list containers", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		result = append(result, fromSummary(c))
	}
	return result, nil
}

// Inspect returns the runtime's current view of a container.
func (a *Adapter) Inspect(ctx context.Context, id string) (domain.Container, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return domain.Container{}, runtimeErr("inspect "+id, err)
	}
	return fromInspect(info), nil
}

// Lookup finds a container, running or not, by its exact name.
func (a *Adapter) Lookup(ctx context.Context, name string) (domain.Container, bool, error) {
	name = strings.TrimPrefix(name, "/")
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+regexp.QuoteMeta(name)+"$")),
	})
	if err != nil {
		return domain.Container{}, false, runtimeErr("lookup "+name, err)
	}
	for _, c := range containers {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return fromSummary(c), true, nil
			}
		}
	}
	return domain.Container{}, false, nil
}

// Clone creates a container from the same image as id, attaches it to the
// source's application network under "<alias>_clone", detaches it from the
// default network and starts it.
func (a *Adapter) Clone(ctx context.Context, id, newName string) (string, error) {
	newName = strings.TrimPrefix(newName, "/")
	if newName == "" {
		return "", domain.ValidationError("clone "+id, errors.New("new container name is empty"))
	}

	// 1. Read the source
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", runtimeErr("inspect "+id, err)
	}
	source := fromInspect(info)

	appNet, ok := source.AppNetwork(a.defaultNetwork)
	if !ok {
		return "", domain.ValidationError("clone "+source.Name, domain.ErrNoAppNetwork)
	}
	alias := cloneAlias(source, appNet)

	// 2. Create the copy
	cfg := &container.Config{Image: source.Image, Labels: map[string]string{}}
	if info.Config != nil {
		cfg.Env = info.Config.Env
		cfg.Cmd = info.Config.Cmd
		cfg.ExposedPorts = info.Config.ExposedPorts
		for k, v := range info.Config.Labels {
			cfg.Labels[k] = v
		}
	}
	cfg.Labels[CloneOfLabel] = info.ID

	created, err := a.cli.ContainerCreate(ctx, cfg, nil, nil, nil, newName)
	if err != nil {
		return "", runtimeErr("create "+newName, err)
	}
	newID := created.ID
	for _, w := range created.Warnings {
		a.log.Warn("container create warning", zap.String("container", newName), zap.String("warning", w))
	}

	// 3. Attach to the source's network under the derived alias
	if err := a.cli.NetworkConnect(ctx, appNet.NetworkID, newID, &network.EndpointSettings{
		Aliases: []string{alias},
	}); err != nil {
		return newID, runtimeErr("connect "+newName+" to "+appNet.Name, err)
	}

	// 4. Leave the default network
	if err := a.detachDefault(ctx, newID); err != nil {
		return newID, err
	}

	// 5. Start
	if err := a.cli.ContainerStart(ctx, newID, container.StartOptions{}); err != nil {
		return newID, runtimeErr("start "+newName, err)
	}

	a.log.Info("container cloned",
		zap.String("source", source.Name),
		zap.String("clone", newName),
		zap.String("id", newID),
		zap.String("network", appNet.Name),
		zap.String("alias", alias),
	)
	return newID, nil
}

func (a *Adapter) detachDefault(ctx context.Context, id string) error {
	nets, err := a.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.defaultNetwork)),
	})
	if err != nil {
		return runtimeErr("list networks", err)
	}
	for _, n := range nets {
		// the name filter matches substrings
		if n.Name != a.defaultNetwork {
			continue
		}
		if err := a.cli.NetworkDisconnect(ctx, n.ID, id, false); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return runtimeErr("disconnect "+id+" from "+n.Name, err)
		}
	}
	return nil
}

// Stop gracefully stops a running container, killing it after timeout
func (a *Adapter) Stop(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return runtimeErr("stop "+id, err)
	}
	a.log.Info("container stopped", zap.String("id", id))
	return nil
}

// Remove deletes a container. Removing a container that is already gone succeeds.
func (a *Adapter) Remove(ctx context.Context, id string) error {
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return runtimeErr("remove "+id, err)
	}
	a.log.Info("container removed", zap.String("id", id))
	return nil
}

// UpdateResources applies new limits to a running container.
func (a *Adapter) UpdateResources(ctx context.Context, id string, res domain.Resources) (domain.ResourceUpdate, error) {
	if err := a.validateResources(res); err != nil {
		return domain.ResourceUpdate{}, err
	}

	body, err := a.cli.ContainerUpdate(ctx, id, container.UpdateConfig{
		Resources: container.Resources{
			Memory:     res.MemoryBytes,
			CpusetCpus: res.CPUSet,
			CPUShares:  res.CPUShares,
		},
	})
	if err != nil {
		return domain.ResourceUpdate{}, runtimeErr("update "+id, err)
	}

	a.log.Info("container resources updated",
		zap.String("id", id),
		zap.Int64("memory", res.MemoryBytes),
		zap.String("cpuset", res.CPUSet),
		zap.Int64("cpu_shares", res.CPUShares),
	)
	return domain.ResourceUpdate{ContainerID: id, Applied: res, Warnings: body.Warnings}, nil
}

func (a *Adapter) validateResources(res domain.Resources) error {
	if res.MemoryBytes < 0 || (res.MemoryBytes > 0 && res.MemoryBytes < a.memoryFloor) {
		return domain.ValidationError("update resources",
			fmt.Errorf("memory limit %d is below the minimum of %d bytes", res.MemoryBytes, a.memoryFloor))
	}
	if res.CPUShares < 0 {
		return domain.ValidationError("update resources", errors.New("cpu shares must not be negative"))
	}
	if res.CPUSet != "" && !cpusetRe.MatchString(res.CPUSet) {
		return domain.ValidationError("update resources", fmt.Errorf("invalid cpuset %q", res.CPUSet))
	}
	return nil
}

// Exec runs cmd inside a container and waits for it to exit.
func (a *Adapter) Exec(ctx context.Context, id string, cmd []string) (int, error) {
	created, err := a.cli.ContainerExecCreate(ctx, id, types.ExecConfig{Cmd: cmd})
	if err != nil {
		return 0, runtimeErr("exec create in "+id, err)
	}
	if err := a.cli.ContainerExecStart(ctx, created.ID, types.ExecStartCheck{Detach: true}); err != nil {
		return 0, runtimeErr("exec start in "+id, err)
	}

	for {
		st, err := a.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return 0, runtimeErr("exec inspect in "+id, err)
		}
		if !st.Running {
			return st.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, runtimeErr("exec wait in "+id, ctx.Err())
		case <-time.After(a.execPoll):
		}
	}
}

// cloneAlias derives the clone's alias from the first source alias that is
// not the runtime-generated short id, falling back to the source name.
func cloneAlias(source domain.Container, net domain.NetworkAttachment) string {
	base := source.Name
	for _, al := range net.Aliases {
		if al == "" || strings.HasPrefix(source.ID, al) {
			continue
		}
		base = al
		break
	}
	return base + "_clone"
}

func runtimeErr(op string, err error) error {
	if errdefs.IsNotFound(err) {
		return domain.RuntimeError(op, fmt.Errorf("%w: %v", domain.ErrNotFound, err))
	}
	return domain.RuntimeError(op, err)
}

func fromSummary(c types.Container) domain.Container {
	// Use the first name if available, remove slash
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	out := domain.Container{
		ID:     c.ID,
		Name:   name,
		Image:  c.Image,
		Status: c.Status,
		State:  c.State,
		Labels: c.Labels,
	}
	for _, p := range c.Ports {
		out.Ports = append(out.Ports, domain.PortMapping{Port: int(p.PrivatePort), Protocol: p.Type})
	}
	if c.NetworkSettings != nil {
		for name, ep := range c.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			out.Networks = append(out.Networks, domain.NetworkAttachment{NetworkID: ep.NetworkID, Name: name, Aliases: ep.Aliases})
		}
	}
	sortContainer(&out)
	return out
}

func fromInspect(info types.ContainerJSON) domain.Container {
	out := domain.Container{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.ContainerJSONBase != nil && info.State != nil {
		out.State = info.State.Status
	}
	if info.Config != nil {
		out.Image = info.Config.Image
		out.Labels = info.Config.Labels
		for p := range info.Config.ExposedPorts {
			out.Ports = append(out.Ports, domain.PortMapping{Port: p.Int(), Protocol: p.Proto()})
		}
	}
	if out.Image == "" && info.ContainerJSONBase != nil {
		out.Image = info.Image
	}
	if info.NetworkSettings != nil {
		if len(out.Ports) == 0 {
			for p := range info.NetworkSettings.Ports {
				out.Ports = append(out.Ports, domain.PortMapping{Port: p.Int(), Protocol: p.Proto()})
			}
		}
		for name, ep := range info.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			out.Networks = append(out.Networks, domain.NetworkAttachment{NetworkID: ep.NetworkID, Name: name, Aliases: ep.Aliases})
		}
	}
	sortContainer(&out)
	return out
}

func sortContainer(c *domain.Container) {
	sort.Slice(c.Ports, func(i, j int) bool { return c.Ports[i].Port < c.Ports[j].Port })
	sort.Slice(c.Networks, func(i, j int) bool { return c.Networks[i].Name < c.Networks[j].Name })
}
