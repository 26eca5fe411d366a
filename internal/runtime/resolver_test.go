package runtime

import "testing"

func TestResolveRecipient_PassesThroughValidAgentID(t *testing.T) {
	got := ResolveRecipient("agent-0a1b2c3d", []string{"agent-deadbeef"})
	if got != "agent-0a1b2c3d" {
		t.Errorf("got %q, want unchanged valid agent_id", got)
	}
}

func TestResolveRecipient_PassesThroughWellKnownNames(t *testing.T) {
	for _, name := range []string{"human", "orchestrator", "supervisor"} {
		if got := ResolveRecipient(name, []string{"agent-deadbeef"}); got != name {
			t.Errorf("ResolveRecipient(%q) = %q, want unchanged", name, got)
		}
	}
}

func TestResolveRecipient_FuzzyMatchesAgainstKnownIDs(t *testing.T) {
	known := []string{"agent-0a1b2c3d", "agent-deadbeef"}
	got := ResolveRecipient("deadbeef", known)
	if got != "agent-deadbeef" {
		t.Errorf("got %q, want agent-deadbeef", got)
	}
}

func TestResolveRecipient_NoKnownIDsReturnsCandidateUnchanged(t *testing.T) {
	got := ResolveRecipient("worker-one", nil)
	if got != "worker-one" {
		t.Errorf("got %q, want unchanged candidate when no known ids", got)
	}
}
