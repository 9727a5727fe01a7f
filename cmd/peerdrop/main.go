package main

import "github.com/rudransh-shrivastava/peerdrop/internal/cli"

func main() {
	cli.Execute()
}
