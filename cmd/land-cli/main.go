// Package main is the entry point for the land CLI.
package main

import "github.com/runtime-land/land/internal/cli"

func main() {
	cli.Execute()
}
