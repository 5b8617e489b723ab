package engine

import "github.com/ethereum/go-ethereum/metrics"

var (
	commandExecutedCounter  = metrics.NewRegisteredCounter("router/commands/executed", nil)
	commandPreviewedCounter = metrics.NewRegisteredCounter("router/commands/previewed", nil)
	executionRevertedMeter  = metrics.NewRegisteredCounter("router/execution/reverted", nil)
)
