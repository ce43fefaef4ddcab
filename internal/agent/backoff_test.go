package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectTimer(t *testing.T) {
	timer := newReconnectTimer(time.Second, 5*time.Second)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, timer.Next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)

	timer.Reset()
	assert.Equal(t, time.Second, timer.Next())
}

func TestReconnectTimer_MaxBelowMin(t *testing.T) {
	timer := newReconnectTimer(3*time.Second, time.Second)
	assert.Equal(t, 3*time.Second, timer.Next())
	assert.Equal(t, 3*time.Second, timer.Next())
}
