package sandbox

import _ "embed"

// DefaultHarness wraps a program with its allowed bindings and writes the chart.
//
//go:embed harness.py
var DefaultHarness []byte
