// Package scheduler runs the polling loop that fires due tasks.
//
// One worker sweeps the task store every poll interval and hands each task
// whose next_run fell inside the execution window to the engine. Tasks that
// are overdue beyond the window are left alone; the health monitor reports
// them.
package scheduler
