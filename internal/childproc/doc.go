// Package childproc starts and reaps command children as local OS processes.
// Children run in their own process group so that termination signals reach
// the whole tree, stream their output line by line, and are stopped with a
// SIGTERM-then-SIGKILL sequence bounded by a grace window.
package childproc
