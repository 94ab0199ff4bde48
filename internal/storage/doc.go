// Package storage persists report tasks and their run history.
//
// It provides:
//   - TaskStore: the authoritative task collection, saved as one JSON document
//     replaced atomically on every mutation
//   - RunLog: an append-only record of executions (file or sqlite backend)
package storage
