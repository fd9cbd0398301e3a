package main

import "github.com/kiranshivaraju/modeltrain/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
