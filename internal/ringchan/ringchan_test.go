package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.ForceSend(i)
	}

	var got []int
	for rc.Len() > 0 {
		v, ok := rc.TryReceive()
		assert.True(t, ok)
		got = append(got, v)
	}

	assert.Equal(t, []int{3, 4, 5}, got, "only the newest values MUST remain")
	assert.Equal(t, Metrics{Written: 5, Overwritten: 2}, rc.GetMetrics())
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.ForceSend("a"))
	assert.True(t, rc.ForceSend("b"))

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)
}

func TestRingChannel_Close(t *testing.T) {
	rc := New[int](2)
	rc.ForceSend(1)
	rc.Close()
	rc.Close()

	assert.False(t, rc.ForceSend(2), "send after close MUST be a no-op")

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
