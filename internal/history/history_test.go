package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestRecord_AssignsID(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	id, err := s.Record(Run{Date: "2024-03-05", RecordsDelivered: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	run, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", run.Date)
	assert.Equal(t, 3, run.RecordsDelivered)
	assert.False(t, run.StartedAt.IsZero())
}

func TestRecent_NewestFirst(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	base := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for i, date := range []string{"2024-03-05", "2024-03-06", "2024-03-07"} {
		_, err := s.Record(Run{Date: date, StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	runs, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2024-03-07", runs[0].Date)
	assert.Equal(t, "2024-03-06", runs[1].Date)

	all, err := s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_RebuildsIndex(t *testing.T) {
	s, path := openTestStore(t)

	id, err := s.Record(Run{Date: "2024-03-05", ObjectsFailed: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len())
	runs, err := reopened.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, 1, runs[0].ObjectsFailed)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
