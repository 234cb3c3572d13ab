package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewNode_Rejects_Out_Of_Range(t *testing.T) {
	req := require.New(t)

	_, err := NewNode(-1)
	req.ErrorIs(err, ErrInvalidNode)
	_, err = NewNode(1024)
	req.ErrorIs(err, ErrInvalidNode)

	_, err = NewNode(1023)
	req.NoError(err)
}

func TestGenerate_Is_Strictly_Increasing(t *testing.T) {
	req := require.New(t)
	node, err := NewNode(7)
	req.NoError(err)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		req.Greater(id, prev)
		prev = id
	}
	req.Equal(int64(7), NodeOf(prev))
}

func TestGenerate_Survives_Clock_Going_Backwards(t *testing.T) {
	req := require.New(t)
	node, err := NewNode(1)
	req.NoError(err)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	node.now = func() time.Time { return at }
	first := node.Generate()

	at = at.Add(-time.Second)
	second := node.Generate()

	req.Greater(second, first)
	req.Equal(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), Time(second))
}

func TestGenerate_Waits_When_Millisecond_Is_Exhausted(t *testing.T) {
	req := require.New(t)
	node, err := NewNode(3)
	req.NoError(err)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	node.now = func() time.Time {
		calls++
		// the clock only moves once the whole sequence space was used
		if calls > stepMask+2 {
			return at.Add(time.Millisecond)
		}
		return at
	}

	var last int64
	for i := 0; i <= stepMask; i++ {
		last = node.Generate()
	}
	req.Equal(at, Time(last))

	// When one more id is requested in the same millisecond
	id := node.Generate()

	// Then it comes from the next millisecond with a fresh sequence
	req.Greater(id, last)
	req.Equal(at.Add(time.Millisecond), Time(id))
	req.Equal(int64(0), id&stepMask)
	req.Equal(int64(3), NodeOf(id))
}
