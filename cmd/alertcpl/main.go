package main

import "alertcpl/internal/cli"

func main() {
	cli.Execute()
}
