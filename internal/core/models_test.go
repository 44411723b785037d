package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReservationIsActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Reservation{ExpiresAt: now.Add(time.Second)}
	if !r.IsActive(now) {
		t.Fatal("expected active before expiry")
	}
	if r.IsActive(now.Add(time.Second)) {
		t.Fatal("expected inactive at expiry")
	}
	if got := r.Remaining(now.Add(time.Hour)); got != 0 {
		t.Fatalf("expected zero remaining after expiry, got %s", got)
	}
}

func TestReservationCloneIsDeep(t *testing.T) {
	p := 40.0
	r := Reservation{Patterns: []string{"a/*.go"}, Metadata: ReservationMetadata{Progress: &p}}
	c := r.Clone()
	c.Patterns[0] = "b/*.go"
	*c.Metadata.Progress = 90
	if r.Patterns[0] != "a/*.go" || *r.Metadata.Progress != 40 {
		t.Fatalf("clone shares state with original: %+v", r)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("create: %w", Invalid("ttl_seconds", "must be positive"))
	if !IsValidation(err) {
		t.Fatal("expected wrapped validation error to be detected")
	}
	ce := &ConflictError{Conflicts: []Conflict{{ExistingReservation: Reservation{RequesterID: "agent-1"}}}}
	if !errors.Is(ce, ErrConflict) {
		t.Fatal("expected ConflictError to unwrap to ErrConflict")
	}
	if ce.Error() != "1 conflicting reservation(s) held by agent-1" {
		t.Fatalf("unexpected message: %q", ce.Error())
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityCritical.Rank() > SeverityHigh.Rank() && SeverityHigh.Rank() > SeverityMedium.Rank() && SeverityMedium.Rank() > SeverityLow.Rank()) {
		t.Fatal("severity ranks out of order")
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"P0": P0, "p3": P3, " 4 ": P4} {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePriority("P7"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !P1.Outranks(P2) || P2.Outranks(P2) {
		t.Fatal("unexpected Outranks result")
	}
}
