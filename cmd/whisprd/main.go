// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// whisprd runs the Whispr VM behind an HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Command().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "whisprd: %s\n", err)
		stop()
		os.Exit(1)
	}
}
