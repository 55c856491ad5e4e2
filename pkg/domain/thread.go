package domain

import (
	"fmt"
	"strings"
)

// ThreadIDSeparator joins the keys of a thread id.
const ThreadIDSeparator = "::"

// WorkflowKindProposal is the kind used for proposal-generation threads.
const WorkflowKindProposal = "proposal"

// ThreadID derives the stable id of a thread from its owner and subject keys.
func ThreadID(ownerKey, subjectKey, kind string) string {
	return strings.Join([]string{ownerKey, subjectKey, kind}, ThreadIDSeparator)
}

// ParseThreadID splits a thread id into its owner, subject and kind keys.
func ParseThreadID(id string) (owner, subject, kind string, err error) {
	parts := strings.Split(id, ThreadIDSeparator)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", NewValidationError("threadId", fmt.Sprintf("malformed thread id %q", id))
	}
	return parts[0], parts[1], parts[2], nil
}
