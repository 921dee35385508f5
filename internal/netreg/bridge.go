package netreg

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"

	"github.com/vishvananda/netlink"

	"github.com/keeprun/keep/internal/model"
)

// BridgeDriver implements Driver over a Linux bridge: netlink for the
// link/address/namespace operations, a child "iptables" process for the
// two NAT/forward rules.
type BridgeDriver struct{}

func NewBridgeDriver() *BridgeDriver { return &BridgeDriver{} }

func (b *BridgeDriver) CreateNetwork(name, cidr string, gateway net.IP) (Network, error) {
	if err := b.createBridge(name); err != nil {
		return Network{}, fmt.Errorf("%w: create bridge: %v", model.ErrNetlinkFailed, err)
	}

	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		_ = b.deleteBridge(name)
		return Network{}, fmt.Errorf("%w: %v", model.ErrInvalidCidr, err)
	}
	prefixLen, _ := ipnet.Mask.Size()

	if err := b.setBridgeIP(name, gateway, prefixLen); err != nil {
		_ = b.deleteBridge(name)
		return Network{}, fmt.Errorf("%w: set bridge ip: %v", model.ErrNetlinkFailed, err)
	}
	if err := b.setLinkUp(name); err != nil {
		_ = b.deleteBridge(name)
		return Network{}, fmt.Errorf("%w: set link up: %v", model.ErrNetlinkFailed, err)
	}
	if err := b.setBasicIptables(name, cidr); err != nil {
		_ = b.deleteBridge(name)
		return Network{}, fmt.Errorf("%w: %v", model.ErrIptablesFailed, err)
	}

	return Network{Name: name, CIDR: cidr, Gateway: gateway.String(), Driver: "bridge"}, nil
}

func (b *BridgeDriver) DeleteNetwork(n Network) error {
	return b.deleteBridge(n.Name)
}

func (b *BridgeDriver) Connect(n Network, ep *Endpoint) (net.IP, error) {
	if err := b.createVethPair(ep.VethHost, ep.VethPeer); err != nil {
		return nil, fmt.Errorf("%w: create veth pair: %v", model.ErrNetlinkFailed, err)
	}
	if err := b.addToBridge(ep.VethHost, n.Name); err != nil {
		return nil, fmt.Errorf("%w: add veth to bridge: %v", model.ErrNetlinkFailed, err)
	}
	if err := b.setLinkUp(ep.VethHost); err != nil {
		return nil, fmt.Errorf("%w: set host veth up: %v", model.ErrNetlinkFailed, err)
	}
	netnsPath := fmt.Sprintf("/proc/%d/ns/net", ep.ContainerPid)
	if err := b.moveToNetns(ep.VethPeer, netnsPath); err != nil {
		return nil, fmt.Errorf("%w: move veth to container netns: %v", model.ErrNetlinkFailed, err)
	}
	return ep.ContainerIP, nil
}

func (b *BridgeDriver) createBridge(name string) error {
	la := netlink.NewLinkAttrs()
	la.Name = name
	return netlink.LinkAdd(&netlink.Bridge{LinkAttrs: la})
}

func (b *BridgeDriver) deleteBridge(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	return netlink.LinkDel(link)
}

func (b *BridgeDriver) createVethPair(hostVeth, peerVeth string) error {
	la := netlink.NewLinkAttrs()
	la.Name = hostVeth
	veth := &netlink.Veth{LinkAttrs: la, PeerName: peerVeth}
	return netlink.LinkAdd(veth)
}

func (b *BridgeDriver) setBridgeIP(bridge string, ip net.IP, prefixLen int) error {
	link, err := netlink.LinkByName(bridge)
	if err != nil {
		return err
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, 32)}}
	return netlink.AddrAdd(link, addr)
}

func (b *BridgeDriver) addToBridge(iface, bridge string) error {
	bridgeLink, err := netlink.LinkByName(bridge)
	if err != nil {
		return err
	}
	ifaceLink, err := netlink.LinkByName(iface)
	if err != nil {
		return err
	}
	return netlink.LinkSetMaster(ifaceLink, bridgeLink.(*netlink.Bridge))
}

func (b *BridgeDriver) moveToNetns(iface, netnsPath string) error {
	ifaceLink, err := netlink.LinkByName(iface)
	if err != nil {
		return err
	}
	f, err := os.Open(netnsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return netlink.LinkSetNsFd(ifaceLink, int(f.Fd()))
}

func (b *BridgeDriver) setLinkUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(link)
}

// setBasicIptables installs the forward/NAT rules by shelling out to the
// iptables binary rather than a Go library wrapper.
func (b *BridgeDriver) setBasicIptables(name, cidr string) error {
	if err := execIptables("-A", "FORWARD", "-i", name, "-j", "ACCEPT"); err != nil {
		return fmt.Errorf("FORWARD rule: %w", err)
	}
	if err := execIptables("-t", "nat", "-A", "POSTROUTING", "-s", cidr, "-j", "MASQUERADE"); err != nil {
		return fmt.Errorf("MASQUERADE rule: %w", err)
	}
	return nil
}

func execIptables(args ...string) error {
	cmd := exec.CommandContext(context.Background(), "iptables", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %v: %w (output: %s)", args, err, out)
	}
	return nil
}
