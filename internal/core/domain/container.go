package domain

import (
	"fmt"
	"sort"
)

// DefaultNetwork is the network the runtime attaches new containers to when none is given.
const DefaultNetwork = "bridge"

// Container represents a container as reported by the runtime (Docker, K8s, etc.)
type Container struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Image    string              `json:"image"`
	Status   string              `json:"status,omitempty"`
	State    string              `json:"state,omitempty"` // running, exited, etc.
	Ports    []PortMapping       `json:"ports,omitempty"`
	Networks []NetworkAttachment `json:"networks,omitempty"`
	Labels   map[string]string   `json:"labels,omitempty"`
}

// PortMapping is one exposed container port.
type PortMapping struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// NetworkAttachment links a container to a network under a set of aliases.
type NetworkAttachment struct {
	NetworkID string   `json:"network_id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
}

// ServicePort returns the lowest exposed port. The runtime reports ports as an
// unordered set, so the lowest one is used to keep the choice stable.
func (c Container) ServicePort() (int, error) {
	if len(c.Ports) == 0 {
		return 0, ValidationError("service port", fmt.Errorf("container %s exposes no ports", c.Name))
	}
	ports := make([]int, 0, len(c.Ports))
	for _, p := range c.Ports {
		ports = append(ports, p.Port)
	}
	sort.Ints(ports)
	return ports[0], nil
}

// AppNetwork returns the first non-default network, ordered by name.
func (c Container) AppNetwork(defaultNetwork string) (NetworkAttachment, bool) {
	nets := make([]NetworkAttachment, 0, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == defaultNetwork {
			continue
		}
		nets = append(nets, n)
	}
	if len(nets) == 0 {
		return NetworkAttachment{}, false
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i].Name < nets[j].Name })
	return nets[0], true
}

// Backend returns the address other containers use to reach c on its service port.
func (c Container) Backend() (Backend, error) {
	port, err := c.ServicePort()
	if err != nil {
		return Backend{}, err
	}
	return Backend{Host: c.Name, Port: port}, nil
}

// Resources is a resource-limit change for a running container.
// Zero values leave the corresponding limit unchanged.
type Resources struct {
	MemoryBytes int64  `json:"memory_bytes"`
	CPUSet      string `json:"cpuset_cpus"`
	CPUShares   int64  `json:"cpu_shares"`
}

// ResourceUpdate is what the runtime reported after applying Resources.
type ResourceUpdate struct {
	ContainerID string    `json:"container_id"`
	Applied     Resources `json:"applied"`
	Warnings    []string  `json:"warnings,omitempty"`
}
