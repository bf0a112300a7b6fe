package models

import (
	"testing"
	"time"
)

func TestSearchAuditEventComputeHash(t *testing.T) {
	base := SearchAuditEvent{
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ClientID:    "tenant-a",
		Query:       "deployment runbook",
		Intent:      IntentAnswerQuestion,
		ResultCount: 3,
		Success:     true,
	}

	first := base.ComputeHash()
	if first == "" || first != base.ComputeHash() {
		t.Fatal("hash must be deterministic and non-empty")
	}

	tampered := base
	tampered.Query = "deployment runbook "
	if tampered.ComputeHash() == first {
		t.Error("changing the query must change the hash")
	}

	chained := base
	chained.PreviousHash = first
	if chained.ComputeHash() == first {
		t.Error("the previous hash must feed into the chain")
	}
}

func auditChain(n int) []SearchAuditEvent {
	events := make([]SearchAuditEvent, n)
	previous := ""
	for i := range events {
		events[i] = SearchAuditEvent{
			Timestamp:    time.Date(2026, 8, 1, 12, i, 0, 0, time.UTC),
			ClientID:     "tenant-a",
			Query:        "query",
			Intent:       IntentAnswerQuestion,
			ResultCount:  i,
			Success:      true,
			PreviousHash: previous,
		}
		events[i].CurrentHash = events[i].ComputeHash()
		previous = events[i].CurrentHash
	}
	return events
}

func TestVerifyAuditSequence(t *testing.T) {
	if !VerifyAuditSequence(nil) {
		t.Error("an empty chain verifies")
	}
	if !VerifyAuditSequence(auditChain(4)) {
		t.Error("an intact chain verifies")
	}

	tampered := auditChain(4)
	tampered[2].Query = "rewritten after the fact"
	if VerifyAuditSequence(tampered) {
		t.Error("a tampered event must fail verification")
	}

	broken := auditChain(4)
	broken[2].PreviousHash = "0000"
	broken[2].CurrentHash = broken[2].ComputeHash()
	if VerifyAuditSequence(broken) {
		t.Error("a broken link must fail verification")
	}
}

func TestSearchIntentValid(t *testing.T) {
	valid := []SearchIntent{
		IntentAnswerQuestion, IntentFindEvidence, IntentExploreTopic,
		IntentVerifyClaim, IntentSummarizeSource,
	}
	for _, intent := range valid {
		if !intent.Valid() {
			t.Errorf("%q should be valid", intent)
		}
	}

	for _, intent := range []SearchIntent{"", "ANSWER_QUESTION", "random"} {
		if intent.Valid() {
			t.Errorf("%q should be invalid", intent)
		}
	}
}
