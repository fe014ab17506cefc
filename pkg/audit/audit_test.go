package audit

import (
	"errors"
	"testing"
)

type account struct {
	Owner   string   `json:"owner"`
	Balance int      `json:"balance"`
	Tags    []string `json:"tags,omitempty"`
}

func TestAudit_Struct(t *testing.T) {
	acc := &account{Owner: "ana", Balance: 10}

	transitions, err := Audit(acc, func() error {
		acc.Balance = 25
		acc.Tags = []string{"vip"}
		return nil
	})
	if err != nil {
		t.Fatalf("Audit() failed: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2: %v", len(transitions), transitions)
	}

	balance, ok := transitions[0]["balance"]
	if !ok {
		t.Fatalf("transitions[0] = %v, want balance", transitions[0])
	}
	if balance.Before != uint64(10) || balance.After != uint64(25) {
		t.Errorf("balance = %v -> %v, want 10 -> 25", balance.Before, balance.After)
	}
	tags := transitions[1]["tags"]
	if tags.Before != nil {
		t.Errorf("tags before = %v, want nil", tags.Before)
	}
}

func TestAudit_SnapshotIsDetached(t *testing.T) {
	acc := &account{Owner: "ana", Tags: []string{"a"}}

	transitions, err := Audit(acc, func() error {
		acc.Tags[0] = "b"
		return nil
	})
	if err != nil {
		t.Fatalf("Audit() failed: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("got %d transitions, want 1", len(transitions))
	}
	before := transitions[0]["tags"].Before.([]any)
	if before[0] != "a" {
		t.Errorf("before snapshot = %v, want [a]", before)
	}
}

func TestAudit_ReturnsFnError(t *testing.T) {
	state := map[string]any{"n": 1}
	boom := errors.New("boom")

	transitions, err := Audit(state, func() error {
		state["n"] = 2
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Audit() error = %v, want boom", err)
	}
	if len(transitions) != 1 {
		t.Errorf("got %d transitions, want 1", len(transitions))
	}
}

func TestDiff_SkipsUnchangedAndFuncs(t *testing.T) {
	before, err := Snapshot(map[string]any{"same": "x", "fn": func() {}, "gone": 1})
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if _, ok := before["fn"]; ok {
		t.Error("function value should be dropped")
	}

	after := map[string]any{"same": "x"}
	diff := Diff(before, after)
	if len(diff) != 1 {
		t.Fatalf("got %d transitions, want 1: %v", len(diff), diff)
	}
	if ch := diff[0]["gone"]; ch.After != nil {
		t.Errorf("gone.After = %v, want nil", ch.After)
	}
}
