package live

import "testing"

func TestStateMerge(t *testing.T) {
	t.Parallel()

	s := State{"count": 1, "label": "a"}

	if changed := s.Merge(State{"count": 1, "label": "a"}); changed {
		t.Error("Merge() of identical values reported a change")
	}
	if changed := s.Merge(State{"count": 2}); !changed {
		t.Error("Merge() of a new value reported no change")
	}
	if s["count"] != 2 {
		t.Errorf("count = %v, want 2", s["count"])
	}
	if changed := s.Merge(State{"fresh": true}); !changed {
		t.Error("Merge() of a new key reported no change")
	}
	// Non-comparable values always count as changed.
	s["items"] = []string{"x"}
	if changed := s.Merge(State{"items": []string{"x"}}); !changed {
		t.Error("Merge() of slice values reported no change")
	}
}

func TestStateCloneIsIndependent(t *testing.T) {
	t.Parallel()

	s := State{"count": 1}
	c := s.Clone()
	c["count"] = 99

	if s["count"] != 1 {
		t.Errorf("mutating the clone changed the original: %v", s["count"])
	}
}

func TestDefinitionActionAllowList(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Name:         "Widget",
		DefaultState: State{"value": 0},
		Actions:      []string{"increment", "reset"},
	}

	if !def.ActionPublic("increment") {
		t.Error("declared action not public")
	}
	if def.ActionPublic("dropTables") {
		t.Error("undeclared action is public")
	}
	if !def.HasStateKey("value") {
		t.Error("declared state key missing")
	}
	if def.HasStateKey("secret") {
		t.Error("undeclared state key present")
	}
}
