package envelope

import "regexp"

// MailboxPrefix is the namespace prefix for every mailbox stream key.
const MailboxPrefix = "qc:mailbox/"

// Well-known mailbox recipients.
const (
	RecipientOrchestrator = "orchestrator"
	RecipientHuman        = "human"
	RecipientSupervisor   = "supervisor"
)

// WorkspaceEventsStream names the event stream for a workspace.
func WorkspaceEventsStream(workspaceID string) string {
	return "qc:workspace:" + workspaceID + ":events"
}

// ContextMetricsStream is the stream context-engine metrics are published to.
const ContextMetricsStream = "qc:context:metrics"

// AutonomousEventsStream is the stream autonomous-run telemetry is published to.
const AutonomousEventsStream = "qc:autonomous:events"

// Mailbox returns the fully-qualified mailbox stream name for a recipient.
func Mailbox(recipient string) string {
	return MailboxPrefix + recipient
}

var agentIDPattern = regexp.MustCompile(`^agent-[0-9a-f]{8}$`)

// ValidAgentID reports whether id matches the agent_id pattern agent-<8 hex>.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}
