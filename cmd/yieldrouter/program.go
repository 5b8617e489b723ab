package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/openyield/yieldrouter/engine"
)

// programStep is one entry of the JSON program format: a symbolic opcode name
// and its hex-encoded argument blob.
type programStep struct {
	Op    string `json:"op"`
	Input string `json:"input"`
}

func parseProgram(data []byte) ([]byte, [][]byte, error) {
	var steps []programStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, nil, fmt.Errorf("parse program: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("empty program")
	}
	tags := make([]byte, 0, len(steps))
	inputs := make([][]byte, 0, len(steps))
	for i, step := range steps {
		op, ok := engine.ParseOpcode(step.Op)
		if !ok {
			return nil, nil, fmt.Errorf("step %d: unknown operation %q", i, step.Op)
		}
		blob := []byte{}
		if step.Input != "" && step.Input != "0x" {
			var err error
			if blob, err = hexutil.Decode(step.Input); err != nil {
				return nil, nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
			}
		}
		tags = append(tags, byte(op))
		inputs = append(inputs, blob)
	}
	return tags, inputs, nil
}

func loadProgramFile(path string) ([]byte, [][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return parseProgram(data)
}
