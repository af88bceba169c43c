package main

import "github.com/zgpcy/cloud-cost-monitor/internal/cli"

func main() {
	cli.Execute()
}
