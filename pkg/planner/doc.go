// Package planner turns the variables of a classified document into an
// output filename.
//
// A [Planner] first runs its [Derivation]s, which compute additional
// variables from the extracted ones. It then substitutes `{NAME}`
// placeholders in a filename pattern, and [Reservations] resolve collisions
// with existing files.
package planner
