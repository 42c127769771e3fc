package main

import (
	"github.com/Paintersrp/brood/internal/cli"
	"github.com/Paintersrp/brood/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
