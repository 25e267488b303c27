// Package engine runs the two-phase dispatch loop.
//
// A run drains the command queue through procedures (phase A), then drains the
// events those procedures emitted through policies (phase B), and repeats
// while either queue holds work. Handlers only ever append to the queue
// opposite the one being drained, so a phase can never feed itself.
//
// Emissions are buffered per invocation and committed to the next queue only
// when the handler returns without error. The first failure aborts the run.
// Queues live inside one Run call; a Loop may serve concurrent runs as long
// as the query and mutator backends it reaches tolerate that.
package engine
