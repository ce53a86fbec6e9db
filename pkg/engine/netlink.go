package engine

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	ns "github.com/containernetworking/plugins/pkg/ns"
	ping "github.com/go-ping/ping"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"nestgo/pkg/address"
)

const (
	netnsRunDir = "/var/run/netns"
	vethMTU     = 1500
	pingTimeout = 2 * time.Second
)

// NetlinkEngine is the production Engine, talking to the kernel through
// netlink. It must run as root.
type NetlinkEngine struct {
	log *logrus.Entry
}

func NewNetlinkEngine() *NetlinkEngine {
	return &NetlinkEngine{log: logrus.WithField("component", "engine")}
}

func (e *NetlinkEngine) CreateNamespace(id string) (string, error) {
	// netns.NewNamed switches the calling thread into the new
	// namespace, so pin the thread and switch back before returning.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return "", &SyscallError{Op: "get current namespace for", ID: id, Err: err}
	}
	defer origin.Close()

	handle, err := netns.NewNamed(id)
	if err != nil {
		return "", &SyscallError{Op: "create namespace", ID: id, Err: err}
	}
	handle.Close()

	if err := netns.Set(origin); err != nil {
		return "", &SyscallError{Op: "restore namespace after creating", ID: id, Err: err}
	}
	e.log.WithField("namespace", id).Debug("created namespace")
	return filepath.Join(netnsRunDir, id), nil
}

func (e *NetlinkEngine) DeleteNamespace(id string) error {
	err := netns.DeleteNamed(id)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &SyscallError{Op: "delete namespace", ID: id, Err: err}
	}
	return nil
}

func (e *NetlinkEngine) CreateVethPair(nameA, nameB string) error {
	linkAttr := netlink.NewLinkAttrs()
	linkAttr.Name = nameA
	linkAttr.MTU = vethMTU
	linkAttr.Flags = net.FlagUp

	veth := &netlink.Veth{
		LinkAttrs: linkAttr,
		PeerName:  nameB,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return &SyscallError{Op: "create veth pair", ID: nameA + "/" + nameB, Err: err}
	}

	// Both ends exist now. Any failure past this point rolls back the
	// whole pair so no half-created link is ever observable.
	for _, name := range []string{nameA, nameB} {
		link, err := netlink.LinkByName(name)
		if err == nil {
			err = netlink.LinkSetUp(link)
		}
		if err != nil {
			if delErr := netlink.LinkDel(veth); delErr != nil {
				e.log.WithError(delErr).Warnf("rollback of veth %s failed", nameA)
			}
			return &SyscallError{Op: "bring up veth end", ID: name, Err: err}
		}
	}
	return nil
}

func (e *NetlinkEngine) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return &SyscallError{Op: "find link", ID: name, Err: err}
	}
	if err := netlink.LinkDel(link); err != nil {
		return &SyscallError{Op: "delete link", ID: name, Err: err}
	}
	return nil
}

func (e *NetlinkEngine) MoveToNamespace(ifaceName, nsPath string) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return &SyscallError{Op: "find link", ID: ifaceName, Err: err}
	}

	target, err := ns.GetNS(nsPath)
	if err != nil {
		return &SyscallError{Op: "open namespace", ID: nsPath, Err: err}
	}
	defer target.Close()

	if err := netlink.LinkSetNsFd(link, int(target.Fd())); err != nil {
		return &SyscallError{Op: "move link into namespace", ID: ifaceName, Err: err}
	}

	// Moving resets the link to down; bring it back up inside.
	return e.withLink(nsPath, ifaceName, "bring up moved link", netlink.LinkSetUp)
}

func (e *NetlinkEngine) AddAddress(nsPath, ifaceName string, addr address.Address) error {
	return e.withLink(nsPath, ifaceName, "add address to", func(link netlink.Link) error {
		nlAddr, err := netlink.ParseAddr(addr.String())
		if err != nil {
			return err
		}
		return netlink.AddrAdd(link, nlAddr)
	})
}

func (e *NetlinkEngine) DeleteAddress(nsPath, ifaceName string, addr address.Address) error {
	return e.withLink(nsPath, ifaceName, "delete address from", func(link netlink.Link) error {
		nlAddr, err := netlink.ParseAddr(addr.String())
		if err != nil {
			return err
		}
		return netlink.AddrDel(link, nlAddr)
	})
}

func (e *NetlinkEngine) AddDefaultRoute(nsPath, ifaceName string) error {
	return e.withLink(nsPath, ifaceName, "add default route via", func(link netlink.Link) error {
		return netlink.RouteAdd(&netlink.Route{
			LinkIndex: link.Attrs().Index,
			Scope:     netlink.SCOPE_LINK,
		})
	})
}

func (e *NetlinkEngine) EnableForwarding(nsPath string) error {
	return e.inNamespace(nsPath, "enable forwarding in", func() error {
		for _, key := range []string{
			"/proc/sys/net/ipv4/ip_forward",
			"/proc/sys/net/ipv6/conf/all/forwarding",
		} {
			if err := os.WriteFile(key, []byte("1"), 0o644); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *NetlinkEngine) DisableDAD(nsPath string) error {
	return e.inNamespace(nsPath, "disable duplicate address detection in", func() error {
		for _, key := range []string{
			"/proc/sys/net/ipv6/conf/all/accept_dad",
			"/proc/sys/net/ipv6/conf/default/accept_dad",
		} {
			if err := os.WriteFile(key, []byte("0"), 0o644); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *NetlinkEngine) Ping(nsPath string, dst address.Address) (bool, error) {
	var alive bool
	err := e.inNamespace(nsPath, "ping from", func() error {
		pinger, err := ping.NewPinger(dst.Addr())
		if err != nil {
			return err
		}
		pinger.Count = 1
		pinger.Timeout = pingTimeout
		pinger.SetPrivileged(true)
		if err := pinger.Run(); err != nil {
			return err
		}
		alive = pinger.Statistics().PacketsRecv > 0
		return nil
	})
	return alive, err
}

// withLink enters the namespace at nsPath, resolves ifaceName and hands
// the link to fn.
func (e *NetlinkEngine) withLink(nsPath, ifaceName, op string, fn func(netlink.Link) error) error {
	return e.inNamespace(nsPath, op, func() error {
		link, err := netlink.LinkByName(ifaceName)
		if err != nil {
			return fmt.Errorf("failed to get link %s: %w", ifaceName, err)
		}
		return fn(link)
	})
}

func (e *NetlinkEngine) inNamespace(nsPath, op string, fn func() error) error {
	target, err := ns.GetNS(nsPath)
	if err != nil {
		return &SyscallError{Op: "open namespace for " + op, ID: nsPath, Err: err}
	}
	defer target.Close()

	if err := target.Do(func(_ ns.NetNS) error { return fn() }); err != nil {
		return &SyscallError{Op: op, ID: nsPath, Err: err}
	}
	return nil
}
