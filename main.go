package main

import (
	"fmt"
	"os"

	"github.com/wardend/warden/cmd"
)

func main() {
	wardenCmd := cmd.SetupCLI()
	if err := wardenCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
