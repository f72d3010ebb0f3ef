package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/cmd/root"
	"github.com/steamok/usmapctl/internal/cmd/root/version"
	"github.com/steamok/usmapctl/internal/iostreams"
)

// date may be overridden by the linker.
var date = "unknown"

// shutdownContext cancels on the first SIGINT or SIGTERM so a running
// orchestrator can stop its children and release leases. A second signal
// skips the drain and exits immediately.
func shutdownContext(streams *iostreams.IOStreams) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Fprintf(streams.ErrOut, "received %s, stopping running tasks (signal again to force)\n", sig)
		cancel()

		sig = <-sigs
		signal.Stop(sigs)
		fmt.Fprintf(streams.ErrOut, "received %s again, exiting without cleanup\n", sig)
		os.Exit(130)
	}()
	return ctx
}

func main() {
	streams := iostreams.GetOSIOStreams()
	root.Execute(shutdownContext(streams), streams, &build.Info{
		Version: version.VERSION,
		Commit:  version.COMMIT,
		Date:    date,
	})
}
