// Package engine executes one task end to end: it copies the task from the
// store, generates the report, delivers it and writes the outcome back in a
// single store mutation.
package engine
