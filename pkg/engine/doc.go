// Package engine loads rule sets and classifies documents with them.
//
// A rule set has two groups. Global rules run against every document and
// extract values shared across a batch, such as the taxpayer's name. Form
// rules classify the document: they are tried in load order and the first
// rule whose criteria match decides the result.
//
// A [Batch] tracks the global variables of a run. The first value seen for a
// variable is kept and differing values from later documents are reported
// as [Conflict]s.
package engine
