package main

import "albion-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
