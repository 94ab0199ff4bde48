// Package task holds the report task record and the error taxonomy shared
// by the store, the execution engine and the lifecycle API.
package task
