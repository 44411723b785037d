package sqlite

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
