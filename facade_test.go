package redistore

import (
	"context"
	"testing"
)

// fakeBackend is a minimal storageBackend double that records which method
// was invoked, so facade tests can assert routing decisions (GetVersioned
// vs ForceGet, UpdateVersioned vs ForceUpdate) without a live Redis.
type fakeBackend struct {
	prefix string

	lastOp         string
	lastID         StorageId
	lastMinVersion int
	lastIfVersion  int

	setResult    bool
	removeResult bool
	readVersion  int
	updateResult int
	err          error
}

func (f *fakeBackend) Prefix() string { return f.prefix }

func (f *fakeBackend) Set(ctx context.Context, id StorageId, value string, exp int64) (bool, error) {
	f.lastOp = "Set"
	f.lastID = id
	return f.setResult, f.err
}

func (f *fakeBackend) GetVersioned(ctx context.Context, id StorageId, minVersion int, wantValue, wantExpiry bool) (string, bool, int64, bool, int, error) {
	f.lastOp = "GetVersioned"
	f.lastID = id
	f.lastMinVersion = minVersion
	return "v", true, 0, false, f.readVersion, f.err
}

func (f *fakeBackend) ForceGet(ctx context.Context, id StorageId, wantValue, wantExpiry bool) (string, bool, int64, bool, int, error) {
	f.lastOp = "ForceGet"
	f.lastID = id
	return "v", true, 0, false, f.readVersion, f.err
}

func (f *fakeBackend) UpdateVersioned(ctx context.Context, id StorageId, value string, exp int64, ifVersion int) (int, error) {
	f.lastOp = "UpdateVersioned"
	f.lastID = id
	f.lastIfVersion = ifVersion
	return f.updateResult, f.err
}

func (f *fakeBackend) ForceUpdate(ctx context.Context, id StorageId, value string, exp int64) (int, error) {
	f.lastOp = "ForceUpdate"
	f.lastID = id
	return f.updateResult, f.err
}

func (f *fakeBackend) Remove(ctx context.Context, id StorageId) (bool, error) {
	f.lastOp = "Remove"
	f.lastID = id
	return f.removeResult, f.err
}

func (f *fakeBackend) UpdateContext(ctx context.Context, contextName string, exp int64) error {
	f.lastOp = "UpdateContext"
	return f.err
}

func (f *fakeBackend) DeleteContext(ctx context.Context, contextName string) error {
	f.lastOp = "DeleteContext"
	return f.err
}

func newTestFacade(b *fakeBackend) *StorageFacade {
	return &StorageFacade{backend: b}
}

func TestFacadeCreateDelegatesToSet(t *testing.T) {
	b := &fakeBackend{setResult: true}
	f := newTestFacade(b)

	ok, err := f.Create(context.Background(), "ctx", "key", "value", 0)
	if err != nil || !ok {
		t.Fatalf("Create = (%v, %v), want (true, nil)", ok, err)
	}
	if b.lastOp != "Set" {
		t.Errorf("lastOp = %q, want Set", b.lastOp)
	}
}

func TestFacadeReadPicksForceGetWhenVersionZero(t *testing.T) {
	b := &fakeBackend{readVersion: 7}
	f := newTestFacade(b)

	_, _, _, _, version, err := f.Read(context.Background(), "ctx", "key", 0, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if b.lastOp != "ForceGet" {
		t.Errorf("lastOp = %q, want ForceGet", b.lastOp)
	}
	if version != 7 {
		t.Errorf("version = %d, want 7", version)
	}
}

func TestFacadeReadPicksGetVersionedWhenVersionPositive(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFacade(b)

	_, _, _, _, _, err := f.Read(context.Background(), "ctx", "key", 5, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if b.lastOp != "GetVersioned" {
		t.Errorf("lastOp = %q, want GetVersioned", b.lastOp)
	}
	if b.lastMinVersion != 5 {
		t.Errorf("lastMinVersion = %d, want 5", b.lastMinVersion)
	}
}

func TestFacadeUpdatePicksForceUpdateWhenVersionZero(t *testing.T) {
	b := &fakeBackend{updateResult: 3}
	f := newTestFacade(b)

	v, err := f.Update(context.Background(), "ctx", "key", "value", 0, 0)
	if err != nil || v != 3 {
		t.Fatalf("Update = (%d, %v), want (3, nil)", v, err)
	}
	if b.lastOp != "ForceUpdate" {
		t.Errorf("lastOp = %q, want ForceUpdate", b.lastOp)
	}
}

func TestFacadeUpdatePicksUpdateVersionedWhenVersionPositive(t *testing.T) {
	b := &fakeBackend{updateResult: -1}
	f := newTestFacade(b)

	v, err := f.Update(context.Background(), "ctx", "key", "value", 0, 4)
	if err != nil || v != -1 {
		t.Fatalf("Update = (%d, %v), want (-1, nil)", v, err)
	}
	if b.lastOp != "UpdateVersioned" {
		t.Errorf("lastOp = %q, want UpdateVersioned", b.lastOp)
	}
	if b.lastIfVersion != 4 {
		t.Errorf("lastIfVersion = %d, want 4", b.lastIfVersion)
	}
}

func TestFacadeDeleteDelegatesToRemove(t *testing.T) {
	b := &fakeBackend{removeResult: true}
	f := newTestFacade(b)

	ok, err := f.Delete(context.Background(), "ctx", "key")
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
	}
	if b.lastOp != "Remove" {
		t.Errorf("lastOp = %q, want Remove", b.lastOp)
	}
}

func TestFacadeContextOperationsDelegate(t *testing.T) {
	b := &fakeBackend{}
	f := newTestFacade(b)

	if err := f.UpdateContext(context.Background(), "ctx", 0); err != nil {
		t.Fatal(err)
	}
	if b.lastOp != "UpdateContext" {
		t.Errorf("lastOp = %q, want UpdateContext", b.lastOp)
	}

	if err := f.DeleteContext(context.Background(), "ctx"); err != nil {
		t.Fatal(err)
	}
	if b.lastOp != "DeleteContext" {
		t.Errorf("lastOp = %q, want DeleteContext", b.lastOp)
	}
}

func TestFacadeReapIsNoop(t *testing.T) {
	f := newTestFacade(&fakeBackend{})
	if err := f.Reap(context.Background()); err != nil {
		t.Errorf("Reap returned error: %v", err)
	}
}
