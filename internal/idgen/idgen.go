// Package idgen generates the identifiers this module hands out:
// orchestration IDs, workflow IDs, and spawn-intent tokens.
//
// Grounded on the pack's broader use of google/uuid for entity identity
// (found in jordigilh-kubernaut's and nevindra-oasis's go.mod); the teacher
// itself slugifies human-readable names instead (internal/utils/path.go's
// Slugify) but has no workflow-identity concept of its own to borrow from,
// since it runs one phase at a time rather than tracking concurrent
// subprocess identities.
package idgen

import "github.com/google/uuid"

// NewOrchestrationID returns a fresh orchestration identifier.
func NewOrchestrationID() string {
	return "orch-" + uuid.NewString()
}

// NewWorkflowID returns a fresh workflow (subprocess) identifier.
func NewWorkflowID() string {
	return "wf-" + uuid.NewString()
}
