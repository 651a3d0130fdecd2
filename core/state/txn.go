package state

import (
	"fmt"

	"stabled/storage"
)

// overlay buffers writes and deletes on top of a base store. Reads fall
// through to the base until a key has been staged.
type overlay struct {
	base    kvStore
	writes  map[string][]byte
	deletes map[string]struct{}
}

func newOverlay(base kvStore) *overlay {
	return &overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *overlay) Put(key []byte, value []byte) error {
	k := string(key)
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[k] = buf
	delete(o.deletes, k)
	return nil
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, storage.ErrKeyNotFound
	}
	if value, ok := o.writes[k]; ok {
		buf := make([]byte, len(value))
		copy(buf, value)
		return buf, nil
	}
	return o.base.Get(key)
}

func (o *overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *overlay) flush() error {
	for k := range o.deletes {
		if err := o.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	for k, value := range o.writes {
		if err := o.base.Put([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

// Txn is a staged state transaction. All typed accessors operate on the
// overlay; nothing reaches the backing store until Commit. Discard drops the
// staged writes, leaving the store untouched. A Txn is not safe for
// concurrent use and must not outlive its Commit or Discard call.
type Txn struct {
	View
	overlay *overlay
	done    bool
}

// Begin opens a staged transaction over the manager's backing store.
func (m *Manager) Begin() *Txn {
	ov := newOverlay(m.View.store)
	return &Txn{View: View{store: ov}, overlay: ov}
}

// Commit applies the staged writes to the backing store.
func (t *Txn) Commit() error {
	if t == nil || t.overlay == nil {
		return fmt.Errorf("state txn unavailable")
	}
	if t.done {
		return fmt.Errorf("state txn already finished")
	}
	t.done = true
	return t.overlay.flush()
}

// Discard drops every staged write. Safe to call after Commit, where it is a
// no-op, so callers can defer it unconditionally.
func (t *Txn) Discard() {
	if t == nil || t.overlay == nil || t.done {
		return
	}
	t.done = true
	t.overlay.writes = make(map[string][]byte)
	t.overlay.deletes = make(map[string]struct{})
}

// Pending reports the number of staged mutations. Test helper.
func (t *Txn) Pending() int {
	if t == nil || t.overlay == nil {
		return 0
	}
	return len(t.overlay.writes) + len(t.overlay.deletes)
}
