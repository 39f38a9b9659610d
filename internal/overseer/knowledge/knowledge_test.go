package knowledge

import "testing"

func TestSearchRanksByRelevance(t *testing.T) {
	idx := New()
	idx.Add(Incident{ID: "GD-1", Text: "destroyed production lab during business hours, customer demo disrupted"})
	idx.Add(Incident{ID: "GD-2", Text: "routine teardown of an isolated test lab, no impact"})

	matches := idx.Search("destroy production lab customer demo", 5)
	if len(matches) == 0 || matches[0].Incident.ID != "GD-1" {
		t.Fatalf("expected GD-1 ranked first, got %+v", matches)
	}
}

func TestQueryReturnsNoMatchBelowThreshold(t *testing.T) {
	idx := New()
	idx.Add(Incident{ID: "GD-1", Text: "unrelated incident about networking misconfiguration"})

	_, confident := idx.Query("completely different topic about storage quotas")
	if confident {
		t.Fatal("expected no confident match for an unrelated fingerprint")
	}
}

func TestQueryConfidentOnStrongMatch(t *testing.T) {
	idx := New()
	idx.Add(Incident{ID: "GD-7", Text: "destroy_vm|vm-42 flagged repeatedly, known flaky teardown target"})

	match, confident := idx.Query("destroy_vm|vm-42")
	if !confident || match == "" {
		t.Fatalf("expected a confident match, got %q confident=%v", match, confident)
	}
}

func TestAddReplacesExistingIncident(t *testing.T) {
	idx := New()
	idx.Add(Incident{ID: "GD-1", Text: "original text about alpha"})
	idx.Add(Incident{ID: "GD-1", Text: "replaced text about beta"})

	matches := idx.Search("alpha", 5)
	if len(matches) != 0 {
		t.Fatalf("expected replaced incident to no longer match old terms, got %+v", matches)
	}
	matches = idx.Search("beta", 5)
	if len(matches) != 1 {
		t.Fatalf("expected replaced incident to match new terms, got %+v", matches)
	}
}
