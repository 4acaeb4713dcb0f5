// Package watcher wraps fsnotify as a directory watch primitive that reports
// file creations.
//
// A creation is held for a short settle window that is re-armed by writes to
// the same file, so callbacks usually fire after the producer has paused.
// Callers must still tolerate files that are not fully written. Callbacks run
// on the watcher's dispatch goroutines and should hand work off quickly.
package watcher
