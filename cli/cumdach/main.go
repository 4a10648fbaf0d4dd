package main

import (
	"os"

	cumdachcmder "github.com/amach-health/cumdach/cmd/cumdach"
)

func main() {
	cmd := cumdachcmder.NewCumdachCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
