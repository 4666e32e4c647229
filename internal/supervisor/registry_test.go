package supervisor

import (
	"testing"
)

func newIdleSupervisor(t *testing.T, id CameraID, loop *fakeLoop, engine *fakeEngine, b Backend) *Supervisor {
	t.Helper()
	var restarter Restarter
	if b != nil {
		restarter = b
	}
	sup, err := New(Config{
		ID:        id,
		Options:   testOptions(),
		NewPlayer: engine.factory,
		Display:   newFakeDisplay(loop.Now),
		Restarter: restarter,
		Logger:    testLogger(),
		Loop:      loop,
	})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	return sup
}

func TestRegistry_AddGet(t *testing.T) {
	reg := NewRegistry()
	loop := newFakeLoop()

	_, ok := reg.Get("cam1")
	if ok {
		t.Error("expected not found for empty registry")
	}

	sup := newIdleSupervisor(t, "cam1", loop, &fakeEngine{}, nil)
	if err := reg.Add(sup); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := reg.Get("cam1")
	if !ok || got != sup {
		t.Errorf("Get: ok=%v, got %p want %p", ok, got, sup)
	}
}

func TestRegistry_Add_duplicate(t *testing.T) {
	reg := NewRegistry()
	loop := newFakeLoop()
	engine := &fakeEngine{}

	if err := reg.Add(newIdleSupervisor(t, "cam1", loop, engine, nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(newIdleSupervisor(t, "cam1", loop, engine, nil)); err != ErrDuplicateCamera {
		t.Errorf("expected ErrDuplicateCamera, got %v", err)
	}
}

func TestRegistry_List_sorted(t *testing.T) {
	reg := NewRegistry()
	loop := newFakeLoop()
	engine := &fakeEngine{}
	for _, id := range []CameraID{"c", "a", "b"} {
		if err := reg.Add(newIdleSupervisor(t, id, loop, engine, nil)); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	list := reg.List()
	if len(list) != 3 || reg.Len() != 3 {
		t.Fatalf("expected 3 supervisors, got %d", len(list))
	}
	for i, want := range []CameraID{"a", "b", "c"} {
		if list[i].ID() != want {
			t.Errorf("List[%d] = %s, want %s", i, list[i].ID(), want)
		}
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry()
	sup := newIdleSupervisor(t, "cam1", newFakeLoop(), &fakeEngine{}, nil)
	reg.Add(sup)

	got, ok := reg.Remove("cam1")
	if !ok || got != sup {
		t.Errorf("Remove: ok=%v got %p want %p", ok, got, sup)
	}
	if _, ok := reg.Remove("cam1"); ok {
		t.Error("second Remove should report not found")
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}
