package main

import (
	"github.com/claudeck/claudeck/cmd/claudeck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.Exit("Error: %v", err)
	}
}
