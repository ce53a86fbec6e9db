package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"nestgo/cmd"
	"nestgo/pkg/driver"
	"nestgo/pkg/engine"
	"nestgo/pkg/topology"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []topology.Option{topology.WithBridger(engine.NewSwitchBackend())}
	if containers, err := engine.NewContainerBackend(); err != nil {
		logrus.WithError(err).Warn("container backend unavailable, container nodes disabled")
	} else {
		opts = append(opts, topology.WithContainerRunner(containers))
	}

	t := topology.New(engine.NewNetlinkEngine(), opts...)
	d := driver.New(t)

	// Teardown runs on every exit path, panics included, so a failed or
	// interrupted run never leaves namespaces behind.
	defer d.Destroy()

	if err := cmd.Execute(ctx, d); err != nil {
		logrus.WithError(err).Error("run failed")
		d.Destroy()
		os.Exit(1)
	}
}
