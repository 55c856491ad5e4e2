// Package llm provides content generators for the proposal nodes.
//
// The factory creates generators based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package llm
