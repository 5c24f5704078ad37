// Command bundlectl builds analysis bundles and inspects predictor events
// straight from the database, without the API or job workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := newCLI(os.Stdout)
	err := rootCommand(c).ExecuteContext(ctx)
	c.log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bundlectl:", err)
		os.Exit(1)
	}
}
