package redistore

import (
	"testing"

	"github.com/redistore/redistore/internal/hashslot"
)

func TestStorageIdRender(t *testing.T) {
	id := NewStorageId("session", "abc123", "sp:")
	if got, want := id.Render(), "{session:sp:abc123}"; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
	if got, want := id.RenderVersion(), "version.of:{session:sp:abc123}"; got != want {
		t.Errorf("RenderVersion() = %q, want %q", got, want)
	}
}

func TestStorageIdRenderNoPrefix(t *testing.T) {
	id := NewStorageId("session", "abc123", "")
	if got, want := id.Render(), "{session:abc123}"; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

// Collocation: the data key and its version key must always hash to the
// same slot, since both are derived from the same hash-tagged substring.
func TestStorageIdCollocation(t *testing.T) {
	ids := []StorageId{
		NewStorageId("session", "abc123", "sp:"),
		NewStorageId("", "k", ""),
		NewStorageId("ctx", "", "pre"),
		NewStorageId("a-very-long-context-value-here", "another-long-key-value", "prefix:"),
	}

	for _, id := range ids {
		dataSlot := hashslot.Slot([]byte(id.Render()))
		versionSlot := hashslot.Slot([]byte(id.RenderVersion()))
		if dataSlot != versionSlot {
			t.Errorf("id %v: data slot %d != version slot %d", id, dataSlot, versionSlot)
		}
		if got := id.Slot(); got != dataSlot {
			t.Errorf("id %v: Slot() = %d, want %d (from rendered key)", id, got, dataSlot)
		}
	}
}

// Slot-stability: the same inputs must always hash to the same slot.
func TestStorageIdSlotStability(t *testing.T) {
	id := NewStorageId("session", "abc123", "sp:")
	first := id.Slot()
	for i := 0; i < 10; i++ {
		if got := id.Slot(); got != first {
			t.Errorf("Slot() is unstable: got %d, want %d", got, first)
		}
	}
}

func TestMaxKeyLength(t *testing.T) {
	if got, want := MaxKeyLength(0), 256*1024*1024-2; got != want {
		t.Errorf("MaxKeyLength(0) = %d, want %d", got, want)
	}
	if got, want := MaxKeyLength(3), 256*1024*1024-5; got != want {
		t.Errorf("MaxKeyLength(3) = %d, want %d", got, want)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOk bool
	}{
		{"0", 0, true},
		{"42", 42, true},
		{"", 0, false},
		{"not-a-number", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseVersion(tt.in)
		if got != tt.want || ok != tt.wantOk {
			t.Errorf("parseVersion(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOk)
		}
	}
}
