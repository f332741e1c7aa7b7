package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightsky/skycover/internal/models"
)

// TestCoalescer_SingleFetchForConcurrentMisses verifies N concurrent callers
// on one key trigger exactly one fetch and all receive its result.
func TestCoalescer_SingleFetchForConcurrentMisses(t *testing.T) {
	c := newCoalescer(5 * time.Second)
	var fetches int32
	release := make(chan struct{})

	fn := func() (models.ForecastSeries, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return models.ForecastSeries{Hours: 24}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]models.ForecastSeries, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.do(context.Background(), "k", fn)
		}()
	}

	// Let every caller register before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if results[i].Hours != 24 {
			t.Errorf("caller %d result = %+v", i, results[i])
		}
	}
}

// TestCoalescer_DistinctKeysIndependent verifies different keys do not share
// a fetch.
func TestCoalescer_DistinctKeysIndependent(t *testing.T) {
	c := newCoalescer(5 * time.Second)
	var fetches int32

	fn := func() (models.ForecastSeries, error) {
		atomic.AddInt32(&fetches, 1)
		return models.ForecastSeries{}, nil
	}

	if _, err := c.do(context.Background(), "a", fn); err != nil {
		t.Fatalf("do(a) error = %v", err)
	}
	if _, err := c.do(context.Background(), "b", fn); err != nil {
		t.Fatalf("do(b) error = %v", err)
	}
	if n := atomic.LoadInt32(&fetches); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

// TestCoalescer_ErrorSharedWithWaiters verifies a failed fetch reaches every
// waiting caller.
func TestCoalescer_ErrorSharedWithWaiters(t *testing.T) {
	c := newCoalescer(5 * time.Second)
	boom := errors.New("boom")
	release := make(chan struct{})

	fn := func() (models.ForecastSeries, error) {
		<-release
		return models.ForecastSeries{}, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.do(context.Background(), "k", fn)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d error = %v, want shared failure", i, err)
		}
	}
}

// TestCoalescer_WaiterTimeout verifies a waiter bounded by the coalescer
// timeout gives up instead of hanging on a stuck fetch.
func TestCoalescer_WaiterTimeout(t *testing.T) {
	c := newCoalescer(50 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	fn := func() (models.ForecastSeries, error) {
		<-release
		return models.ForecastSeries{}, nil
	}

	_, err := c.do(context.Background(), "k", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("do() error = %v, want DeadlineExceeded", err)
	}
}

// TestCoalescer_KeyReusableAfterCompletion verifies a completed fetch clears
// the slot so the next miss fetches again.
func TestCoalescer_KeyReusableAfterCompletion(t *testing.T) {
	c := newCoalescer(5 * time.Second)
	var fetches int32

	fn := func() (models.ForecastSeries, error) {
		atomic.AddInt32(&fetches, 1)
		return models.ForecastSeries{}, nil
	}

	if _, err := c.do(context.Background(), "k", fn); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	// The goroutine deletes the slot after closing done; give it a moment.
	time.Sleep(20 * time.Millisecond)
	if _, err := c.do(context.Background(), "k", fn); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if n := atomic.LoadInt32(&fetches); n != 2 {
		t.Errorf("fetches = %d, want 2 sequential fetches", n)
	}
}

// TestStampedeTracker verifies concurrent miss counting and cleanup.
func TestStampedeTracker(t *testing.T) {
	tr := newStampedeTracker()

	if n := tr.recordMiss("k"); n != 1 {
		t.Errorf("first miss = %d, want 1", n)
	}
	if n := tr.recordMiss("k"); n != 2 {
		t.Errorf("second miss = %d, want 2", n)
	}
	tr.recordDone("k")
	tr.recordDone("k")

	if n := tr.recordMiss("k"); n != 1 {
		t.Errorf("miss after drain = %d, want 1", n)
	}
	tr.recordDone("k")

	// Draining below zero must not corrupt the map.
	tr.recordDone("k")
	if n := tr.recordMiss("k"); n != 1 {
		t.Errorf("miss after over-drain = %d, want 1", n)
	}
}
