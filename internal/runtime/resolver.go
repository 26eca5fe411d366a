package runtime

import (
	"github.com/sahilm/fuzzy"

	"github.com/nexus-prp/runtime/internal/envelope"
)

// wellKnownRecipients never go through fuzzy resolution.
var wellKnownRecipients = map[string]bool{
	envelope.RecipientHuman:        true,
	envelope.RecipientOrchestrator: true,
	envelope.RecipientSupervisor:   true,
}

// ResolveRecipient matches candidate against known agent_ids when candidate
// isn't already a well-formed agent_id or a well-known recipient name. A
// supervisor or human operator addressing reply_to by a nickname, partial
// id, or typo'd id ("age-0a1b2c3" instead of "agent-0a1b2c3d") still routes
// correctly as long as one known id is an unambiguous best fuzzy match.
// Returns candidate unchanged when no known id scores above zero.
func ResolveRecipient(candidate string, known []string) string {
	if candidate == "" || wellKnownRecipients[candidate] || envelope.ValidAgentID(candidate) {
		return candidate
	}
	if len(known) == 0 {
		return candidate
	}

	matches := fuzzy.Find(candidate, known)
	if len(matches) == 0 {
		return candidate
	}
	return known[matches[0].Index]
}
