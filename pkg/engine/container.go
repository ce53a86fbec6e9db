package engine

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// ContainerBackend materializes namespaces as privileged containers
// instead of bare netns objects. A container-backed node runs a full
// userspace image (a routing daemon, say) while its network namespace
// is wired into the topology like any other.
type ContainerBackend struct {
	cli *client.Client
	log *logrus.Entry
}

func NewContainerBackend() (*ContainerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ContainerBackend{
		cli: cli,
		log: logrus.WithField("component", "container"),
	}, nil
}

// Start creates and starts a privileged container named name and
// returns the path of its network namespace.
func (b *ContainerBackend) Start(ctx context.Context, name, image string) (string, error) {
	sysctls := map[string]string{
		"net.ipv4.ip_forward":          "1",
		"net.ipv6.conf.all.forwarding": "1",
	}

	_, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:           image,
		NetworkDisabled: true,
		User:            "root",
	}, &container.HostConfig{
		Privileged: true,
		Sysctls:    sysctls,
	}, nil, nil, name)
	if err != nil {
		return "", &SyscallError{Op: "create container", ID: name, Err: err}
	}

	if err := b.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return "", &SyscallError{Op: "start container", ID: name, Err: err}
	}

	res, err := b.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", &SyscallError{Op: "inspect container", ID: name, Err: err}
	}

	nsPath := fmt.Sprintf("/proc/%d/ns/net", res.State.Pid)
	b.log.WithFields(logrus.Fields{"container": name, "netns": nsPath}).Debug("container started")
	return nsPath, nil
}

// Remove force-removes the container backing a node.
func (b *ContainerBackend) Remove(ctx context.Context, name string) error {
	err := b.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		return &SyscallError{Op: "remove container", ID: name, Err: err}
	}
	return nil
}
