package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAddAndLookup(t *testing.T) {
	s := NewStore()
	a, err := New(Config{Name: "total_scam_flags", EventName: "scam_flag", Type: Count})
	require.NoError(t, err)

	require.NoError(t, s.Add(a))

	got, err := s.ByName("total_scam_flags")
	require.NoError(t, err)
	require.Same(t, a, got)

	require.ElementsMatch(t, []*Aggregate{a}, s.ByEventName("scam_flag"))
	require.Empty(t, s.ByEventName("purchase"))
}

func TestStoreDuplicateName(t *testing.T) {
	s := NewStore()
	a1, _ := New(Config{Name: "x", EventName: "e1", Type: Count})
	a2, _ := New(Config{Name: "x", EventName: "e2", Type: Count})

	require.NoError(t, s.Add(a1))
	require.Error(t, s.Add(a2))
}

func TestStoreNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.ByName("nonexistent")
	require.Error(t, err)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}
