package task

import "testing"

func TestNamespaceSetGet(t *testing.T) {
	ns := NewNamespace()
	if err := ns.Set("counter", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok := ns.Get("counter")
	if !ok || v != 1 {
		t.Errorf("Get(counter) = (%v, %v), want (1, true)", v, ok)
	}
	if _, ok := ns.Get("missing"); ok {
		t.Error("Get(missing) reported ok")
	}
}

func TestNamespaceRestricted(t *testing.T) {
	ns := NewNamespace()
	if err := ns.Bind(map[string]any{"X": 42}, true); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := ns.Set("X", 0); err == nil {
		t.Error("Set on restricted binding succeeded, want error")
	}
	if err := ns.Bind(map[string]any{"X": 0}, true); err == nil {
		t.Error("re-injection over restricted binding succeeded, want error")
	}

	v, _ := ns.Get("X")
	if v != 42 {
		t.Errorf("X = %v, want 42 after rejected writes", v)
	}
}

func TestNamespaceUnrestrictedBind(t *testing.T) {
	ns := NewNamespace()
	if err := ns.Bind(map[string]any{"y": "a"}, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := ns.Set("y", "b"); err != nil {
		t.Errorf("Set on unrestricted binding failed: %v", err)
	}
	if ns.Len() != 1 {
		t.Errorf("Len = %d, want 1", ns.Len())
	}
}
