// Package execs runs the external commands configured for text extraction,
// such as `pdftotext` and `tesseract`.
//
// A [Command] is a shell-like command line with `{name}` placeholders, which
// are substituted after the line is split into arguments. The environment of
// the command is restricted to a few essential variables plus those the
// configuration names.
package execs
