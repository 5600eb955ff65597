package main

import "github.com/deicod/catalog/internal/cli"

func main() {
	cli.Execute()
}
