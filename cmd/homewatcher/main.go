package main

import (
	"power-env-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
