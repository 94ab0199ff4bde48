// Package schedule computes when a report task runs next.
//
// A task is scheduled by a wall-clock time of day plus one of three calendar
// frequencies. The calculation is pure: it depends only on its arguments and
// returns instants in the location of the supplied "now".
package schedule
