// Package server provides the HTTP API over a rule [engine.Processor].
//
// Documents are classified either one at a time with POST /v1/classify, or
// within a batch created with POST /v1/batches, whose documents share global
// variables the way a directory run does.
package server
