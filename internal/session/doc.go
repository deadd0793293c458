// Package session holds the session data model, the pomodoro phase state
// machine and the user-facing duration grammar.
//
// Everything here is pure: no clocks, no goroutines, no I/O.
package session
