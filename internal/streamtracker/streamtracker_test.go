package streamtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_AddGetRemove(t *testing.T) {
	tr := New(10)
	id := tr.Add("https://example.com/f.bin", 100, nil)
	require.NotEmpty(t, id)

	s, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, s.Status)
	assert.EqualValues(t, 100, s.Length)

	tr.UpdateProgress(id, 42)
	s, _ = tr.Get(id)
	assert.EqualValues(t, 42, s.BytesRead)

	tr.Remove(id, StatusFinished, "")
	_, ok = tr.Get(id)
	assert.False(t, ok)

	hist := tr.GetHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusFinished, hist[0].Status)
}

func TestTracker_Kill_InvokesCancel(t *testing.T) {
	tr := New(10)
	canceled := false
	id := tr.Add("u", -1, func() { canceled = true })

	assert.True(t, tr.Kill(id))
	assert.True(t, canceled)
	assert.False(t, tr.Kill(id))

	hist := tr.GetHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, StatusAborted, hist[0].Status)
}

func TestTracker_GetAll(t *testing.T) {
	tr := New(10)
	tr.Add("a", -1, nil)
	tr.Add("b", -1, nil)
	assert.Len(t, tr.GetAll(), 2)
}

func TestTracker_History_CapsAtMax(t *testing.T) {
	tr := New(2)
	for i := 0; i < 5; i++ {
		id := tr.Add("u", -1, nil)
		tr.Remove(id, StatusFinished, "")
	}
	assert.Len(t, tr.GetHistory(), 2)
}
