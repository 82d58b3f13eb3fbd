// Package main is the entry point for the botcha issuer
package main

import (
	"fmt"
	"os"

	"github.com/layer-3/botcha/cmd/botcha/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
