package scheduler

import (
	"testing"

	"github.com/cgirish01/hypervisor-service/internal/engine"
)

func TestSelectVictims(t *testing.T) {
	running := []runningRow{
		{id: 1, priority: engine.PriorityLow, required: engine.Resources{RAM: 2, CPU: 1}},
		{id: 2, priority: engine.PriorityLow, required: engine.Resources{RAM: 4, CPU: 1}},
		{id: 3, priority: engine.PriorityMedium, required: engine.Resources{RAM: 8, CPU: 2}},
	}

	t.Run("stops accumulating once shortfall is covered", func(t *testing.T) {
		victims, ok := selectVictims(running, engine.Resources{RAM: 5, CPU: 1})
		if !ok {
			t.Fatal("selectVictims() ok = false, want true")
		}
		if len(victims) != 2 {
			t.Fatalf("len(victims) = %d, want 2 (ids 1,2 cover RAM:6 CPU:2)", len(victims))
		}
		if victims[0].id != 1 || victims[1].id != 2 {
			t.Fatalf("victims = %+v, want ids [1 2] in candidate order", victims)
		}
	})

	t.Run("exhausts candidates without covering shortfall", func(t *testing.T) {
		_, ok := selectVictims(running, engine.Resources{RAM: 100, CPU: 1})
		if ok {
			t.Fatal("selectVictims() ok = true, want false — no combination frees 100 RAM")
		}
	})

	t.Run("empty running set never covers a nonzero shortfall", func(t *testing.T) {
		victims, ok := selectVictims(nil, engine.Resources{RAM: 1})
		if ok || victims != nil {
			t.Fatalf("selectVictims(nil, ...) = (%+v, %v), want (nil, false)", victims, ok)
		}
	})
}

func TestSelectVictims_ShortfallNotFullRequirement(t *testing.T) {
	// Three LOW deployments running, each {4,4,0}; a HIGH pending deployment
	// needs {10,10,0} but the cluster already has {8,8,0} available, so the
	// real shortfall is only {2,2,0} — preempting the oldest LOW should be
	// enough, without touching the other two.
	running := []runningRow{
		{id: 1, priority: engine.PriorityLow, required: engine.Resources{RAM: 4, CPU: 4}},
		{id: 2, priority: engine.PriorityLow, required: engine.Resources{RAM: 4, CPU: 4}},
		{id: 3, priority: engine.PriorityLow, required: engine.Resources{RAM: 4, CPU: 4}},
	}
	available := engine.Resources{RAM: 8, CPU: 8}
	required := engine.Resources{RAM: 10, CPU: 10}
	shortfall := available.Shortfall(required)

	victims, ok := selectVictims(running, shortfall)
	if !ok {
		t.Fatal("selectVictims() ok = false, want true")
	}
	if len(victims) != 1 || victims[0].id != 1 {
		t.Fatalf("victims = %+v, want exactly [id 1] — preempting one LOW covers the {2,2,0} shortfall", victims)
	}
}

func TestRemoveRunning(t *testing.T) {
	running := []runningRow{{id: 1}, {id: 2}, {id: 3}}

	got := removeRunning(running, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.id == 2 {
			t.Fatal("removeRunning left id 2 in the result")
		}
	}

	// Removing an id not present is a no-op.
	got2 := removeRunning([]runningRow{{id: 1}}, 99)
	if len(got2) != 1 {
		t.Fatalf("len = %d, want 1 (no-op)", len(got2))
	}
}

func TestHighestPriority(t *testing.T) {
	tests := []struct {
		name    string
		pending []pendingRow
		want    engine.Priority
	}{
		{"empty", nil, engine.Priority(0)},
		{"single low", []pendingRow{{priority: engine.PriorityLow}}, engine.PriorityLow},
		{
			"mixed picks max",
			[]pendingRow{
				{priority: engine.PriorityMedium},
				{priority: engine.PriorityHigh},
				{priority: engine.PriorityLow},
			},
			engine.PriorityHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := highestPriority(tt.pending); got != tt.want {
				t.Errorf("highestPriority() = %v, want %v", got, tt.want)
			}
		})
	}
}
