// Package report produces the artifacts that tasks deliver.
//
// A task names a report type and a reference. The Registry maps the type to
// a Generator; the Generator resolves the reference (a saved report
// configuration) and returns an Artifact: a summary message plus, for
// attachment-carrying types, a file the caller removes once delivered.
package report
