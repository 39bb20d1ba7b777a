// Package orchestrator classifies the documents of an input directory and
// copies each one to an output directory under a planned name.
//
// Documents that match no form rule, or cannot be read, are copied to the
// [UnmatchedDir] subdirectory alongside a log file explaining why.
// Documents whose processing fails are copied there with an "error_" prefix.
// The input directory is never modified.
package orchestrator
