package engine

import (
	"fmt"
	"net"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Shaping layout on an interface:
//
//	tc qdisc add dev X root handle 1: htb default 1
//	tc class add dev X parent 1: classid 1:1 htb rate <rate>
//	tc qdisc add dev X parent 1:1 handle 10: netem delay <delay> loss <loss>
//	tc qdisc add dev X parent 10: handle 11: <qdisc>
//
// Each stage is optional; the next one attaches to the innermost stage
// requested before it (the netem qdisc sits at the root when no rate is
// set, a requested leaf qdisc under whatever came before it). Ingress
// shaping mirrors inbound traffic onto an IFB device and applies the
// same layout there.

const (
	htbBurst   = 10000
	netemLimit = 300000
)

func (e *NetlinkEngine) SetShaping(nsPath, ifaceName string, s Shaping) error {
	if s.Empty() {
		return nil
	}
	return e.withLink(nsPath, ifaceName, "apply shaping to", func(link netlink.Link) error {
		return applyShaping(link, s)
	})
}

func (e *NetlinkEngine) SetupIngressShaping(nsPath, ifaceName, shaperName string, s Shaping) error {
	if s.Empty() {
		return nil
	}
	return e.withLink(nsPath, ifaceName, "apply ingress shaping to", func(link netlink.Link) error {
		// The shaping interface carrying the redirected traffic.
		ifbAttrs := netlink.NewLinkAttrs()
		ifbAttrs.Name = shaperName
		ifbAttrs.Flags = net.FlagUp
		ifb := &netlink.Ifb{LinkAttrs: ifbAttrs}
		if err := netlink.LinkAdd(ifb); err != nil {
			return fmt.Errorf("failed to create shaping interface %s: %w", shaperName, err)
		}
		if err := netlink.LinkSetUp(ifb); err != nil {
			return fmt.Errorf("failed to bring up shaping interface %s: %w", shaperName, err)
		}

		// Ingress qdisc plus a match-all redirect to the IFB.
		ingress := &netlink.Ingress{
			QdiscAttrs: netlink.QdiscAttrs{
				LinkIndex: link.Attrs().Index,
				Handle:    netlink.MakeHandle(0xffff, 0),
				Parent:    netlink.HANDLE_INGRESS,
			},
		}
		if err := netlink.QdiscAdd(ingress); err != nil {
			return fmt.Errorf("failed to add ingress qdisc: %w", err)
		}

		filter := &netlink.U32{
			FilterAttrs: netlink.FilterAttrs{
				LinkIndex: link.Attrs().Index,
				Parent:    netlink.MakeHandle(0xffff, 0),
				Priority:  1,
				Protocol:  unix.ETH_P_ALL,
			},
			Sel: &netlink.TcU32Sel{
				Keys:  []netlink.TcU32Key{{Mask: 0, Val: 0}},
				Flags: netlink.TC_U32_TERMINAL,
			},
			Actions: []netlink.Action{
				netlink.NewMirredAction(ifb.Attrs().Index),
			},
		}
		if err := netlink.FilterAdd(filter); err != nil {
			return fmt.Errorf("failed to add redirect filter: %w", err)
		}

		return applyShaping(ifb, s)
	})
}

func applyShaping(link netlink.Link, s Shaping) error {
	parent := uint32(netlink.HANDLE_ROOT)
	handle := netlink.MakeHandle(1, 0)

	if s.RateBps > 0 {
		rootQdisc := netlink.NewHtb(netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    netlink.MakeHandle(1, 0),
			Parent:    netlink.HANDLE_ROOT,
		})
		rootQdisc.Defcls = 1
		if err := netlink.QdiscAdd(rootQdisc); err != nil {
			return fmt.Errorf("failed to add HTB root qdisc: %w", err)
		}

		class := netlink.NewHtbClass(
			netlink.ClassAttrs{
				LinkIndex: link.Attrs().Index,
				Handle:    netlink.MakeHandle(1, 1),
				Parent:    netlink.MakeHandle(1, 0),
			},
			netlink.HtbClassAttrs{
				Rate:   s.RateBps,
				Buffer: htbBurst,
				Prio:   1,
			},
		)
		if err := netlink.ClassAdd(class); err != nil {
			return fmt.Errorf("failed to add HTB class: %w", err)
		}

		parent = netlink.MakeHandle(1, 1)
		handle = netlink.MakeHandle(10, 0)
	}

	if s.Delay > 0 || s.Loss > 0 {
		netem := netlink.NewNetem(netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    parent,
			Handle:    handle,
		}, netlink.NetemQdiscAttrs{
			Latency: uint32(s.Delay / time.Microsecond),
			Loss:    s.Loss,
			Limit:   netemLimit,
		})
		if err := netlink.QdiscAdd(netem); err != nil {
			return fmt.Errorf("failed to add netem qdisc: %w", err)
		}
		parent = handle
		handle = netlink.MakeHandle(11, 0)
	}

	if s.Qdisc != "" {
		if err := netlink.QdiscAdd(leafQdisc(link.Attrs().Index, parent, handle, s.Qdisc)); err != nil {
			return fmt.Errorf("failed to add %s leaf qdisc: %w", s.Qdisc, err)
		}
	}

	return nil
}

// leafQdisc builds the user-requested queueing discipline attached to
// the innermost stage of the shaping chain.
func leafQdisc(linkIndex int, parent, handle uint32, kind string) *netlink.GenericQdisc {
	return &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: linkIndex,
			Parent:    parent,
			Handle:    handle,
		},
		QdiscType: kind,
	}
}
