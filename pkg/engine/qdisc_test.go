package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"
)

func TestLeafQdisc(t *testing.T) {
	q := leafQdisc(7, netlink.MakeHandle(10, 0), netlink.MakeHandle(11, 0), "codel")

	assert.Equal(t, "codel", q.Type())
	assert.Equal(t, 7, q.Attrs().LinkIndex)
	assert.Equal(t, netlink.MakeHandle(10, 0), q.Attrs().Parent)
	assert.Equal(t, netlink.MakeHandle(11, 0), q.Attrs().Handle)
}

func TestShapingEmpty(t *testing.T) {
	assert.True(t, Shaping{}.Empty())
	assert.False(t, Shaping{RateBps: 1}.Empty())
	assert.False(t, Shaping{Delay: time.Millisecond}.Empty())
	assert.False(t, Shaping{Loss: 0.1}.Empty())

	// A bare leaf qdisc request is shaping too, not a no-op.
	assert.False(t, Shaping{Qdisc: "codel"}.Empty())
}
