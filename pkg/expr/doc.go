// Package expr provides CEL (Common Expression Language) environments for
// deriving filename variables from extracted document values.
//
// Environments include the CEL string and list extensions, plus:
//   - String helpers (digits, words, coalesce)
//   - Map lookup with a fallback (lookup)
//   - File path operations (pathBase, pathExt, pathStem)
package expr
