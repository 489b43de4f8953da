package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.Context(), filepath.Join(t.TempDir(), "state", "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestAddAndList(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ok, err := s.Add(t.Context(), Record{
		Game:          "Celeste",
		ProfileID:     "p1",
		Success:       true,
		UploadID:      "up_1",
		VersionNumber: 3,
		Checksum:      "abc",
		SizeBytes:     1234,
		FileCount:     2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, StageDone, ok.Stage)

	_, err = s.Add(t.Context(), Record{Game: "Hades", Stage: StageProfile, Message: "api: HTTP 500"})
	require.NoError(t, err)

	recs, err := s.List(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Hades", recs[0].Game, "newest first")
	assert.False(t, recs[0].Success)
	assert.Equal(t, StageProfile, recs[0].Stage)
	assert.Empty(t, recs[0].ProfileID)

	got := recs[1]
	assert.Equal(t, ok.ID, got.ID)
	assert.True(t, got.Success)
	assert.Equal(t, "up_1", got.UploadID)
	assert.Equal(t, 3, got.VersionNumber)
	assert.Equal(t, int64(1234), got.SizeBytes)
	assert.True(t, base.Add(time.Minute).Equal(got.CreatedAt))

	limited, err := s.List(t.Context(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListGameAndLastSuccess(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []Record{
		{Game: "Celeste", Success: true, UploadID: "u1"},
		{Game: "Celeste", Success: false, Stage: StageUpload},
		{Game: "Hades", Success: true, UploadID: "u3"},
	} {
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := s.Add(t.Context(), r)
		require.NoError(t, err)
	}

	recs, err := s.ListGame(t.Context(), "Celeste", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Success)

	last, err := s.LastSuccess(t.Context(), "Celeste")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "u1", last.UploadID)

	none, err := s.LastSuccess(t.Context(), "Unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(t.Context(), path, nil)
	require.NoError(t, err)

	_, err = s.Add(t.Context(), Record{Game: "Celeste", Success: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(t.Context(), path, nil)
	require.NoError(t, err)
	defer s2.Close()

	recs, err := s2.List(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
