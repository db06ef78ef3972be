// Package main is the entry point for the proxypal binary.
//
// proxypal manages a single Shadowsocks tunnel through a local ss-local
// process. Without arguments it opens the dashboard; subcommands such as
// connect, status and servers run one operation and exit.
//
// Usage:
//
//	proxypal                 # launch the dashboard
//	proxypal servers add KEY # save an ss:// access key
//	proxypal connect 1       # connect to the first saved server
package main

import (
	"fmt"
	"os"

	"github.com/treykane/proxypal/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
