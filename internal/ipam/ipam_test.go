package ipam

import (
	"net"
	"testing"
)

func TestAllocateAndReleaseIP(t *testing.T) {
	a := New()
	const cidr = "10.10.0.0/30" // 2 usable hosts: .1, .2
	if err := a.AddSubnet(cidr); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}

	ip1, err := a.AllocateIP(cidr)
	if err != nil {
		t.Fatalf("AllocateIP 1: %v", err)
	}
	if !ip1.Equal(net.ParseIP("10.10.0.1")) {
		t.Fatalf("expected .1, got %v", ip1)
	}

	ip2, err := a.AllocateIP(cidr)
	if err != nil {
		t.Fatalf("AllocateIP 2: %v", err)
	}
	if !ip2.Equal(net.ParseIP("10.10.0.2")) {
		t.Fatalf("expected .2, got %v", ip2)
	}

	if _, err := a.AllocateIP(cidr); err == nil {
		t.Fatal("expected exhaustion on a /30 after two allocations")
	}

	if err := a.ReleaseIP(cidr, ip1); err != nil {
		t.Fatalf("ReleaseIP: %v", err)
	}
	ip3, err := a.AllocateIP(cidr)
	if err != nil {
		t.Fatalf("AllocateIP after release: %v", err)
	}
	if !ip3.Equal(ip1) {
		t.Fatalf("expected the released address to be reused, got %v", ip3)
	}
}

func TestReleaseUnallocatedFails(t *testing.T) {
	a := New()
	const cidr = "10.10.1.0/24"
	if err := a.AddSubnet(cidr); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}
	if err := a.ReleaseIP(cidr, net.ParseIP("10.10.1.5")); err == nil {
		t.Fatal("expected releasing a never-allocated ip to fail")
	}
}

func TestAllocateGatewayReservesIndexOne(t *testing.T) {
	a := New()
	const cidr = "10.10.2.0/24"
	if err := a.AddSubnet(cidr); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}
	gw, err := a.AllocateGateway(cidr)
	if err != nil {
		t.Fatalf("AllocateGateway: %v", err)
	}
	if !gw.Equal(net.ParseIP("10.10.2.2")) {
		t.Fatalf("expected gateway at host index 1 (.2), got %v", gw)
	}
	if _, err := a.AllocateSpecific(cidr, GatewayIndex); err == nil {
		t.Fatal("expected re-allocating the gateway bit to fail")
	}
}

func TestDuplicateSubnetRejected(t *testing.T) {
	a := New()
	const cidr = "10.10.3.0/24"
	if err := a.AddSubnet(cidr); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}
	if err := a.AddSubnet(cidr); err == nil {
		t.Fatal("expected duplicate subnet to fail")
	}
}

func TestUnknownSubnetOperationsFail(t *testing.T) {
	a := New()
	if _, err := a.AllocateIP("10.99.0.0/24"); err == nil {
		t.Fatal("expected AllocateIP on unknown subnet to fail")
	}
	if err := a.ReleaseIP("10.99.0.0/24", net.ParseIP("10.99.0.1")); err == nil {
		t.Fatal("expected ReleaseIP on unknown subnet to fail")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	a := New()
	const cidr = "10.10.4.0/24"
	if err := a.AddSubnet(cidr); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}
	ip, err := a.AllocateIP(cidr)
	if err != nil {
		t.Fatalf("AllocateIP: %v", err)
	}

	data := a.Marshal()
	b := New()
	b.Unmarshal(data)

	if err := b.ReleaseIP(cidr, ip); err != nil {
		t.Fatalf("expected restored allocator to know %v was allocated: %v", ip, err)
	}
}
