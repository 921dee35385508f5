package netreg

import (
	"net"
	"path/filepath"
	"testing"
)

type fakeDriver struct {
	created []Network
	deleted []Network
}

func (f *fakeDriver) CreateNetwork(name, cidr string, gateway net.IP) (Network, error) {
	n := Network{Name: name, CIDR: cidr, Gateway: gateway.String(), Driver: "fake"}
	f.created = append(f.created, n)
	return n, nil
}

func (f *fakeDriver) DeleteNetwork(n Network) error {
	f.deleted = append(f.deleted, n)
	return nil
}

func (f *fakeDriver) Connect(n Network, ep *Endpoint) (net.IP, error) {
	return ep.ContainerIP, nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{}
	r := NewRegistry(filepath.Join(t.TempDir(), "networks.json"), map[string]Driver{"fake": drv})
	return r, drv
}

func TestCreateAndGetNetwork(t *testing.T) {
	r, _ := newTestRegistry(t)
	n, err := r.Create("net0", "fake", "10.20.0.0/24")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Gateway != "10.20.0.2" {
		t.Fatalf("expected gateway 10.20.0.2 (index 1), got %s", n.Gateway)
	}
	got, ok := r.Get("net0")
	if !ok || got.CIDR != "10.20.0.0/24" {
		t.Fatalf("expected to find persisted network, got %+v ok=%v", got, ok)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("net0", "fake", "10.20.1.0/24"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := r.Create("net0", "fake", "10.20.2.0/24"); err == nil {
		t.Fatal("expected duplicate network name to fail")
	}
}

func TestCreateUnknownDriverFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("net0", "bridge-that-does-not-exist", "10.20.3.0/24"); err == nil {
		t.Fatal("expected unknown driver to fail")
	}
}

func TestConnectAllocatesFromRegisteredSubnet(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("net0", "fake", "10.20.4.0/24"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ep := &Endpoint{ContainerPid: 1234}
	ip, err := r.Connect("net0", ep)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ip == nil || !ip.Equal(net.ParseIP("10.20.4.1")) {
		t.Fatalf("expected first host address (.1, bit 0, below the gateway at .2), got %v", ip)
	}
}

func TestLoadRecoversPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.json")
	drv := &fakeDriver{}
	r1 := NewRegistry(path, map[string]Driver{"fake": drv})
	if _, err := r1.Create("net0", "fake", "10.20.5.0/24"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r2 := NewRegistry(path, map[string]Driver{"fake": drv})
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := r2.Get("net0")
	if !ok || got.CIDR != "10.20.5.0/24" {
		t.Fatalf("expected persisted network to survive reload, got %+v ok=%v", got, ok)
	}
}
