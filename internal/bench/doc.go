// Package bench measures task-queue backends.
//
// A measurement runs a fixed number of tasks through a backend's Source while
// a Gate middleware counts completions. The Gate fires a single-use Signal on
// the target-th completion, and the Runner racing that signal against source
// exhaustion and cancellation ends the run. Driver repeats push and consume
// measurements per backend and collects the samples into a Report.
package bench
