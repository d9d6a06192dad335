package fs20

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("lamp1", "123401")

	addr, err := r.ResolveByName("lamp1")
	if err != nil {
		t.Fatalf("ResolveByName: %v", err)
	}
	if addr != "123401" {
		t.Errorf("ResolveByName = %q, want 123401", addr)
	}

	name, ok := r.ResolveByAddress("123401")
	if !ok || name != "lamp1" {
		t.Errorf("ResolveByAddress = %q, %v; want lamp1, true", name, ok)
	}

	info, ok := r.Get("lamp1")
	if !ok {
		t.Fatal("Get(lamp1) not found")
	}
	if info.LastCommand != UnknownLastCommand {
		t.Errorf("LastCommand = %q, want %q", info.LastCommand, UnknownLastCommand)
	}
}

func TestRegistryUnknownDevice(t *testing.T) {
	r := NewRegistry()

	if _, err := r.ResolveByName("ghost"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ResolveByName(ghost) error = %v, want ErrUnknownDevice", err)
	}
	if _, ok := r.ResolveByAddress("999900"); ok {
		t.Error("ResolveByAddress(999900) found a device in empty registry")
	}

	// Recording for an unknown name is a no-op.
	r.RecordLastCommand("ghost", "on")
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryReRegisterMovesAddress(t *testing.T) {
	r := NewRegistry()
	r.Register("lamp1", "123401")
	r.RecordLastCommand("lamp1", "on")

	r.Register("lamp1", "123402")

	if _, ok := r.ResolveByAddress("123401"); ok {
		t.Error("old address still resolves after re-register")
	}
	if name, ok := r.ResolveByAddress("123402"); !ok || name != "lamp1" {
		t.Errorf("ResolveByAddress(123402) = %q, %v", name, ok)
	}
	info, _ := r.Get("lamp1")
	if info.LastCommand != UnknownLastCommand {
		t.Errorf("LastCommand after re-register = %q, want %q", info.LastCommand, UnknownLastCommand)
	}
}

func TestRegistrySharedAddress(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "123401")
	r.Register("b", "123401")

	if name, _ := r.ResolveByAddress("123401"); name != "b" {
		t.Errorf("ResolveByAddress = %q, want latest registration b", name)
	}

	// Moving b away hands the address back to a.
	r.Register("b", "123409")
	if name, _ := r.ResolveByAddress("123401"); name != "a" {
		t.Errorf("ResolveByAddress after move = %q, want a", name)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", "000001")
	r.Register("alpha", "000002")
	r.Register("mid", "000003")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, dev := range list {
		if dev.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, dev.Name, want[i])
		}
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("lamp1", "123401")

	info, _ := r.Get("lamp1")
	info.LastCommand = "mutated"

	again, _ := r.Get("lamp1")
	if again.LastCommand != UnknownLastCommand {
		t.Errorf("registry mutated through snapshot: %q", again.LastCommand)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("lamp1", "123401")
	r.Register("lamp2", "123401")
	r.Register("fan", "123402")

	if !r.Unregister("lamp2") {
		t.Fatal("Unregister(lamp2) = false, want true")
	}
	if name, ok := r.ResolveByAddress("123401"); !ok || name != "lamp1" {
		t.Errorf("ResolveByAddress after unregister = %q, %v; want lamp1, true", name, ok)
	}

	if !r.Unregister("fan") {
		t.Fatal("Unregister(fan) = false, want true")
	}
	if _, ok := r.ResolveByAddress("123402"); ok {
		t.Error("fan address still resolves")
	}
	if _, err := r.ResolveByName("fan"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ResolveByName(fan) error = %v, want ErrUnknownDevice", err)
	}
	if r.Unregister("fan") {
		t.Error("second Unregister(fan) = true, want false")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
