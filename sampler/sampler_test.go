/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sampler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSamplerAverage(t *testing.T) {
	s := New(10)
	require.Equal(t, time.Duration(0), s.Average(), "empty sampler must report 0")

	s.Record(10 * time.Millisecond)
	s.Record(20 * time.Millisecond)
	s.Record(30 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, s.Average())
	require.Equal(t, 3, s.Len())
}

func TestSamplerDropsOldestWhenFull(t *testing.T) {
	s := New(3)
	s.Record(10 * time.Millisecond)
	s.Record(20 * time.Millisecond)
	s.Record(30 * time.Millisecond)
	s.Record(60 * time.Millisecond) // drops the 10ms sample

	require.Equal(t, 3, s.Len())
	require.Equal(t, (20*time.Millisecond+30*time.Millisecond+60*time.Millisecond)/3, s.Average())
}

func TestSamplerReset(t *testing.T) {
	s := New(5)
	s.Record(time.Second)
	s.Reset()
	require.Zero(t, s.Len())
	require.Equal(t, time.Duration(0), s.Average())

	s.Record(2 * time.Second)
	require.Equal(t, 2*time.Second, s.Average())
}

func TestSamplerDefaultWindowSize(t *testing.T) {
	s := New(0)
	for i := 0; i < DefaultWindowSize+100; i++ {
		s.Record(time.Millisecond)
	}
	require.Equal(t, DefaultWindowSize, s.Len())
}

func TestSamplerConcurrentRecord(t *testing.T) {
	s := New(100)
	var wg sync.WaitGroup
	wg.Add(8)
	for g := 0; g < 8; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Record(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, s.Len())
	require.Equal(t, time.Millisecond, s.Average())
}
