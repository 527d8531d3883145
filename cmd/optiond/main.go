package main

import "github.com/optionledger/optiond/internal/cli"

func main() {
	cli.Execute()
}
