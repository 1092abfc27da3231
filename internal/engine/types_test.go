package engine

import "testing"

func TestPriorityValid(t *testing.T) {
	tests := []struct {
		p     Priority
		valid bool
	}{
		{PriorityLow, true},
		{PriorityMedium, true},
		{PriorityHigh, true},
		{Priority(0), false},
		{Priority(4), false},
		{Priority(-1), false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.valid {
			t.Errorf("Priority(%d).Valid() = %v, want %v", tt.p, got, tt.valid)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		s        Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.s.Terminal(); got != tt.terminal {
			t.Errorf("Status(%q).Terminal() = %v, want %v", tt.s, got, tt.terminal)
		}
	}
}

func TestResourcesAddSub(t *testing.T) {
	a := Resources{RAM: 10, CPU: 4, GPU: 1}
	b := Resources{RAM: 3, CPU: 1, GPU: 1}

	sum := a.Add(b)
	if sum != (Resources{RAM: 13, CPU: 5, GPU: 2}) {
		t.Fatalf("Add() = %+v, want {13 5 2}", sum)
	}

	diff := a.Sub(b)
	if diff != (Resources{RAM: 7, CPU: 3, GPU: 0}) {
		t.Fatalf("Sub() = %+v, want {7 3 0}", diff)
	}

	// Round trip: allocating then releasing the same amount restores the
	// original value exactly.
	if got := a.Sub(b).Add(b); got != a {
		t.Fatalf("Sub then Add did not round-trip: got %+v, want %+v", got, a)
	}
}

func TestResourcesGTE(t *testing.T) {
	avail := Resources{RAM: 16, CPU: 8, GPU: 2}
	tests := []struct {
		name string
		req  Resources
		want bool
	}{
		{"exact fit", Resources{RAM: 16, CPU: 8, GPU: 2}, true},
		{"comfortably within", Resources{RAM: 4, CPU: 1, GPU: 0}, true},
		{"RAM exceeds", Resources{RAM: 17, CPU: 1, GPU: 0}, false},
		{"CPU exceeds", Resources{RAM: 1, CPU: 9, GPU: 0}, false},
		{"GPU exceeds", Resources{RAM: 1, CPU: 1, GPU: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := avail.GTE(tt.req); got != tt.want {
				t.Errorf("GTE(%+v) = %v, want %v", tt.req, got, tt.want)
			}
		})
	}
}

func TestResourcesShortfall(t *testing.T) {
	avail := Resources{RAM: 4, CPU: 2, GPU: 0}
	req := Resources{RAM: 8, CPU: 1, GPU: 1}

	got := avail.Shortfall(req)
	want := Resources{RAM: 4, CPU: 0, GPU: 1}
	if got != want {
		t.Fatalf("Shortfall() = %+v, want %+v", got, want)
	}

	// A request fully covered by availability has zero shortfall.
	if s := avail.Shortfall(Resources{RAM: 1, CPU: 1}); !s.IsZero() {
		t.Errorf("Shortfall() for covered request = %+v, want zero", s)
	}
}

func TestResourcesIsZero(t *testing.T) {
	if !(Resources{}).IsZero() {
		t.Error("zero-value Resources.IsZero() = false, want true")
	}
	if (Resources{RAM: 0.01}).IsZero() {
		t.Error("Resources{RAM: 0.01}.IsZero() = true, want false")
	}
}
