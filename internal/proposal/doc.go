// Package proposal wires the grant proposal workflow: loading the RFP,
// parallel research and solution analysis joined by a single synthesis
// stage, human review, and section drafting driven by an embedded catalog.
//
// Nodes receive their collaborators (content generator, document source,
// logger) through Services; none of them hold global state.
package proposal
