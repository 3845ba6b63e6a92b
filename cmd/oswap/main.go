package main

import (
	"os"

	"github.com/outcome-labs/oswap/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
