// Package engine runs generation end to end: load, reconcile coverage,
// expand, build the stage graph, emit and persist.
package engine
