package httpclient

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestHostSemaphoreCapsConcurrency(t *testing.T) {
	sem := NewHostSemaphore(2)
	var cur, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := sem.Acquire("http://portal.example")
			defer release()
			n := atomic.AddInt32(&cur, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&cur, -1)
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestHostSemaphoreIsolatesHosts(t *testing.T) {
	sem := NewHostSemaphore(1)
	releaseA := sem.Acquire("http://a.example")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := sem.Acquire("http://b.example")
		release()
		close(done)
	}()
	<-done // would deadlock if hosts shared one slot
}

func TestHostSemaphoreNormalizesURL(t *testing.T) {
	sem := NewHostSemaphore(1)
	a := sem.semFor("http://portal.example/stalker_portal/server/load.php?x=1")
	b := sem.semFor("http://portal.example")
	if a != b {
		t.Fatal("same host with and without path should share a semaphore")
	}
}
