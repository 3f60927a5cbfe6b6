package manager

import (
	"testing"
)

func TestSlotRebindCancelsPrevious(t *testing.T) {
	provider := newStubProvider(1)
	provider.gate = make(chan struct{})
	m := newTestManager(t, provider)
	slot := NewSlot(m)

	first, err := slot.Bind("old", nil, func(Result) {
		t.Errorf("rebound slot must not receive the old result")
	})
	if err != nil {
		t.Fatalf("bind error: %v", err)
	}
	cb, results := collect()
	second, err := slot.Bind("new", nil, cb)
	if err != nil {
		t.Fatalf("bind error: %v", err)
	}
	if !first.IsCanceled() {
		t.Fatalf("previous token should be canceled on rebind")
	}
	if slot.Current() != second {
		t.Fatalf("slot should hold the latest token")
	}

	close(provider.gate)
	r := waitResult(t, results)
	if r.Resource == nil || string(r.Resource.Data) != "data-new" {
		t.Fatalf("unexpected result %+v", r)
	}
	flush(t, m)
}

func TestSlotBindErrorLeavesSlotEmpty(t *testing.T) {
	m := newTestManager(t, newStubProvider(1))
	slot := NewSlot(m)
	if _, err := slot.Bind(7, nil, nil); err == nil {
		t.Fatalf("expected validation error")
	}
	if slot.Current() != nil {
		t.Fatalf("slot should be empty after a failed bind")
	}
	slot.Cancel()
}
