// Package ports declares the interfaces through which the engine reaches its
// collaborators: checkpoint persistence, locking, the event bus, metrics, and
// the content-generation and document-loading services used by nodes.
package ports
