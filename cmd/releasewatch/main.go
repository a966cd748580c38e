// Command releasewatch keeps a local catalog of a release site in sync and
// notifies subscribers about newly published episodes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "releasewatch: %v\n", err)
		os.Exit(1)
	}
}
