package main

import "mx-liquidity/internal/cli"

func main() {
	cli.Execute()
}
