// Package main is the depthfuse command itself.
package main

import (
	"log"
	"os"

	"go.viam.com/depthfuse/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
