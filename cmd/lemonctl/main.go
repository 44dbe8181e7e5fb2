package main

import "github.com/mcoot/lemonslots/internal/cli"

func main() {
	cli.Execute()
}
