// Package main provides the entry point for the easscan CLI.
package main

import (
	"os"
)

func main() {
	os.Exit(exitCode(Execute()))
}
