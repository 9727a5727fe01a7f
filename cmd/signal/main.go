// Command signal runs only the peerdrop signaling server.
package main

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peerdrop/internal/cli"
)

func main() {
	root := cli.NewRootCmd(os.Stdout, nil)
	root.SetArgs(append([]string{"signal"}, os.Args[1:]...))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
