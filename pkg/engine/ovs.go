package engine

import (
	"fmt"

	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/vishvananda/netlink"
)

// SwitchBackend materializes Switch entities as OVS bridges on the
// host. Node interfaces attach to a bridge by plugging the host-side
// end of their veth pair into it.
type SwitchBackend struct {
	client *ovs.Client
}

func NewSwitchBackend() *SwitchBackend {
	return &SwitchBackend{client: ovs.New()}
}

func (b *SwitchBackend) CreateBridge(name string) error {
	if err := b.client.VSwitch.AddBridge(name); err != nil {
		return &SyscallError{Op: "create bridge", ID: name, Err: err}
	}
	return nil
}

func (b *SwitchBackend) DeleteBridge(name string) error {
	if err := b.client.VSwitch.DeleteBridge(name); err != nil {
		return &SyscallError{Op: "delete bridge", ID: name, Err: err}
	}
	return nil
}

// AddPort plugs the host-side veth end into the bridge, bringing it up
// first.
func (b *SwitchBackend) AddPort(bridge, port string) error {
	link, err := netlink.LinkByName(port)
	if err != nil {
		return &SyscallError{Op: "find port", ID: port, Err: err}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return &SyscallError{Op: "bring up port", ID: port, Err: err}
	}
	if err := b.client.VSwitch.AddPort(bridge, port); err != nil {
		return &SyscallError{Op: "add port to bridge", ID: fmt.Sprintf("%s/%s", bridge, port), Err: err}
	}
	return nil
}
