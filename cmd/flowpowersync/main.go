package main

import (
	"flowpower-sync/internal/cli"
)

func main() {
	cli.Execute()
}
