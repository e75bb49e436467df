package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func entry(result string) Entry {
	return Entry{
		ID:       uuid.New(),
		Model:    "D11",
		Label:    "12x40mm",
		Width:    96,
		Height:   320,
		Quantity: 1,
		Result:   result,
		State:    "done",
		Started:  time.Now().Truncate(time.Second),
		Duration: 1500 * time.Millisecond,
	}
}

func TestRecordAndList(t *testing.T) {
	s := openStore(t)

	first := entry("ok")
	second := entry("failed")
	second.State = "startPage"
	second.Error = "correlate: device reported failure"

	seq1, err := s.Record(first)
	require.NoError(t, err)
	seq2, err := s.Record(second)
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	list, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, seq2, list[0].Seq)
	assert.Equal(t, "startPage", list[0].State)
	assert.Equal(t, second.Error, list[0].Error)
	assert.False(t, list[0].Succeeded())

	got := list[1]
	assert.True(t, got.Succeeded())
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, uint16(320), got.Height)
	assert.Equal(t, first.Duration, got.Duration)
	assert.True(t, first.Started.Equal(got.Started))

	limited, err := s.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestKeepPrunesOldest(t *testing.T) {
	s := openStore(t)
	s.Keep = 3

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := entry("ok")
		ids = append(ids, e.ID)
		_, err := s.Record(e)
		require.NoError(t, err)
	}

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[4], list[0].ID)
	assert.Equal(t, ids[2], list[2].ID)
}

func TestClear(t *testing.T) {
	s := openStore(t)
	_, err := s.Record(entry("ok"))
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	n, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Record(entry("ok"))
	assert.NoError(t, err, "store usable after clear")
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.Record(entry("ok"))
	require.NoError(t, err)

	again, err := Open(path, nil)
	require.NoError(t, err)
	n, err := again.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
