package main

import (
	"os"

	"github.com/cursorflow/cursorflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
