package main

import "rwa-manager/internal/cli"

func main() {
	cli.Execute()
}
