// Package main is the entry point for the hisui server.
package main

import (
	"os"

	"github.com/hisui-tv/hisui/cmd/hisui/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
