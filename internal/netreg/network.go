// Package netreg holds the persisted network registry and the bridge
// network driver that backs it.
package netreg

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/keeprun/keep/internal/ipam"
	"github.com/keeprun/keep/internal/model"
)

// Network is the persisted record of one named network.
type Network struct {
	Name    string `json:"name"`
	CIDR    string `json:"cidr"`
	Gateway string `json:"gateway"`
	Driver  string `json:"driver"`
}

// Endpoint is transient: never persisted, built fresh for each connect.
type Endpoint struct {
	ContainerPid int // used as the netns target (/proc/{pid}/ns/net)
	VethHost     string
	VethPeer     string
	ContainerIP  net.IP
}

// Driver is the small interface every network driver implements, leaving
// room for additional drivers alongside BridgeDriver.
type Driver interface {
	CreateNetwork(name, cidr string, gateway net.IP) (Network, error)
	DeleteNetwork(n Network) error
	Connect(n Network, ep *Endpoint) (net.IP, error)
}

// Registry is the single-writer-guarded persisted set of networks plus the
// shared IPAM instance backing their address allocation.
type Registry struct {
	mu       sync.Mutex
	path     string
	networks map[string]Network
	ipam     *ipam.IPAM
	drivers  map[string]Driver
}

func NewRegistry(path string, drivers map[string]Driver) *Registry {
	return &Registry{
		path:     path,
		networks: make(map[string]Network),
		ipam:     ipam.New(),
		drivers:  drivers,
	}
}

type persistedWire struct {
	Networks map[string]Network           `json:"networks"`
	Subnets  map[string]ipam.SerialSubnet `json:"subnets"`
}

// Load recovers the registry from disk, or starts empty if no file exists.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read networks file: %v", model.ErrRecoveryFailed, err)
	}
	var p persistedWire
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("%w: decode networks file: %v", model.ErrRecoveryFailed, err)
	}
	r.networks = p.Networks
	if r.networks == nil {
		r.networks = make(map[string]Network)
	}
	r.ipam.Unmarshal(p.Subnets)
	return nil
}

// save must be called with r.mu held.
func (r *Registry) save() error {
	p := persistedWire{Networks: r.networks, Subnets: r.ipam.Marshal()}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Create validates driver/name, reserves the subnet, allocates the gateway,
// invokes the driver, and persists the registry. Any failure after IPAM
// allocation releases the gateway IP.
func (r *Registry) Create(name, driverName, cidr string) (Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.networks[name]; exists {
		return Network{}, fmt.Errorf("network %q already exists: %w", name, model.ErrAlreadyExists)
	}
	drv, ok := r.drivers[driverName]
	if !ok {
		return Network{}, fmt.Errorf("driver %q: %w", driverName, model.ErrUnsupportedDriver)
	}

	if err := r.ipam.AddSubnet(cidr); err != nil {
		return Network{}, err
	}
	gw, err := r.ipam.AllocateGateway(cidr)
	if err != nil {
		return Network{}, err
	}

	n, err := drv.CreateNetwork(name, cidr, gw)
	if err != nil {
		_ = r.ipam.ReleaseIP(cidr, gw)
		return Network{}, err
	}

	r.networks[name] = n
	if err := r.save(); err != nil {
		_ = r.ipam.ReleaseIP(cidr, gw)
		delete(r.networks, name)
		return Network{}, err
	}
	return n, nil
}

func (r *Registry) Get(name string) (Network, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.networks[name]
	return n, ok
}

func (r *Registry) Connect(networkName string, ep *Endpoint) (net.IP, error) {
	r.mu.Lock()
	n, ok := r.networks[networkName]
	r.mu.Unlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	drv, ok := r.drivers[n.Driver]
	if !ok {
		return nil, model.ErrUnsupportedDriver
	}

	r.mu.Lock()
	ip, err := r.ipam.AllocateIP(n.CIDR)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ep.ContainerIP = ip

	gotIP, err := drv.Connect(n, ep)
	if err != nil {
		r.mu.Lock()
		_ = r.ipam.ReleaseIP(n.CIDR, ip)
		r.mu.Unlock()
		return nil, err
	}
	return gotIP, nil
}
