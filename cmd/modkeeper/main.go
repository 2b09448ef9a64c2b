package main

import "modkeeper/internal/cli"

func main() {
	cli.Execute()
}
