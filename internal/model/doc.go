// Package model defines the core data structures shared by the download
// engine, the status manager and the front ends.
//
// # Episode
//
// Episode is the resource descriptor a download task operates on: remote
// URI, expected length, target directory, unique key, and the mutable state
// and active flag:
//
//	ep := model.NewEpisode(key, uri, "/podcasts/Show", -1)
//	ep.RequestCancel() // safe from any goroutine
//
// # State
//
// State models the download lifecycle. Completed, Failed and Canceled are
// terminal.
package model
