// Package viz renders run progress in the terminal.
//
// [ProgressModel] is a Bubble Tea model fed by [Observer], which forwards
// every accepted output of a running driver. [Run] wires both around a run
// function and cancels the run when the user quits.
//
// # Key Bindings
//
//	q, Ctrl+C - cancel the run and quit
package viz
