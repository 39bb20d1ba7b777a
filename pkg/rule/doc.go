// Package rule implements document classification rules.
//
// A rule is loaded from a [Definition] (the YAML wire format) and compiled
// into a [Rule]: a tree of [Criterion] values that decides whether the rule
// applies to a document's text, and an ordered list of [Action] values that
// extract or derive named [Variables] once it does.
package rule
