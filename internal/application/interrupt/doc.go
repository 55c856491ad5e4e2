// Package interrupt implements the human-review protocol of a thread:
// detecting an interrupt, recording reviewer feedback and resuming the graph
// along the transition the feedback selects.
package interrupt
