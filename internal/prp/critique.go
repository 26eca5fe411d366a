package prp

import (
	"fmt"
	"strings"
)

// SupervisorRejection is the structured payload a supervisor gate rejection
// carries (spec §4.5, §4.6): required artifacts the rejected cycle must
// produce, and the rationale for the rejection.
type SupervisorRejection struct {
	TicketID         string
	CycleID          string
	RequiredArtifacts []string
	Rationale        string
}

// Critique is the translated form of a SupervisorRejection: concrete test
// plans and action items a hypothesis must address before resubmission
// (spec §4.6 "Critique translator").
type Critique struct {
	TicketID     string   `json:"ticket_id"`
	CycleID      string   `json:"cycle_id"`
	Tests        []string `json:"tests"`
	Improvements []string `json:"improvements"`
	Rationale    string   `json:"rationale"`
}

// CritiqueBacklog is the append-only queue of translated supervisor
// critiques (spec §3 "critique_backlog"), deduplicated by (ticket_id,
// cycle_id) so a rejection delivered twice by envelope replay produces
// exactly one entry (spec invariant "A supervisor rejection applied twice
// produces exactly one additional ledger critique entry").
type CritiqueBacklog struct {
	entries []Critique
	seen    map[string]bool
}

// NewCritiqueBacklog returns an empty backlog.
func NewCritiqueBacklog() *CritiqueBacklog {
	return &CritiqueBacklog{seen: map[string]bool{}}
}

// Entries returns every critique, oldest first.
func (b *CritiqueBacklog) Entries() []Critique {
	return b.entries
}

// TranslateAndAppend implements the critique translator: it derives a test
// plan per required artifact and an improvement item from the rationale,
// then appends the result to the backlog unless (ticket_id, cycle_id) has
// already been recorded.
func (b *CritiqueBacklog) TranslateAndAppend(rejection SupervisorRejection) (Critique, bool) {
	key := dedupKey(rejection.TicketID, rejection.CycleID)
	if b.seen[key] {
		return Critique{}, false
	}

	critique := translate(rejection)
	b.entries = append(b.entries, critique)
	b.seen[key] = true
	return critique, true
}

// translate derives tests and improvements from required_artifacts and
// rationale (spec §4.6): one concrete test plan per artifact, plus
// rationale-derived action items split on sentence boundaries.
func translate(rejection SupervisorRejection) Critique {
	var tests []string
	for _, artifact := range rejection.RequiredArtifacts {
		tests = append(tests, fmt.Sprintf("produce %s and attach it to the next hypothesis", artifact))
	}

	var improvements []string
	for _, sentence := range splitSentences(rejection.Rationale) {
		improvements = append(improvements, "address: "+sentence)
	}
	if len(improvements) == 0 && rejection.Rationale != "" {
		improvements = append(improvements, "address: "+rejection.Rationale)
	}

	return Critique{
		TicketID:     rejection.TicketID,
		CycleID:      rejection.CycleID,
		Tests:        tests,
		Improvements: improvements,
		Rationale:    rejection.Rationale,
	}
}

func splitSentences(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' }) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func dedupKey(ticketID, cycleID string) string {
	return ticketID + "|" + cycleID
}
