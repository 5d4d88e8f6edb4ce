package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeTime is a controllable clock plus a manual timer queue.
type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

type fakeTimer struct {
	fireAt time.Time
	fn     func()
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) timer(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timers = append(f.timers, fakeTimer{fireAt: f.now.Add(d), fn: fn})
}

// advance moves the clock and fires any due timers.
func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due []func()
	var pending []fakeTimer
	for _, t := range f.timers {
		if !t.fireAt.After(f.now) {
			due = append(due, t.fn)
		} else {
			pending = append(pending, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

func newTestLimiter(ft *fakeTime) *Limiter {
	return New(Config{
		Window:    60 * time.Second,
		Limit:     10,
		Blacklist: 600 * time.Second,
		Clock:     ft.clock,
		Timer:     ft.timer,
	})
}

func TestAdmit_UnderLimit(t *testing.T) {
	l := newTestLimiter(newFakeTime())

	for i := 0; i < 10; i++ {
		if !l.Admit("1.2.3.4") {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
}

func TestAdmit_EleventhDeniedAndBlacklisted(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	for i := 0; i < 10; i++ {
		l.Admit("1.2.3.4")
		ft.advance(time.Second)
	}

	if l.Admit("1.2.3.4") {
		t.Fatal("11th request within the window must be denied")
	}
	if !l.Blacklisted("1.2.3.4") {
		t.Fatal("client must be blacklisted on the over-threshold transition")
	}

	// Denied while blacklisted, even after the original window has passed.
	ft.advance(120 * time.Second)
	if l.Admit("1.2.3.4") {
		t.Fatal("blacklisted client must be denied")
	}
}

func TestAdmit_BlacklistExpiresViaTimer(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	for i := 0; i < 11; i++ {
		l.Admit("1.2.3.4")
	}
	if !l.Blacklisted("1.2.3.4") {
		t.Fatal("expected blacklist")
	}

	// Idle past the expiry; removal happens via the timer, not on access.
	ft.advance(600 * time.Second)
	if l.Blacklisted("1.2.3.4") {
		t.Fatal("blacklist must expire even for an idle client")
	}

	// Fresh window after expiry.
	if !l.Admit("1.2.3.4") {
		t.Fatal("request after blacklist expiry must be admitted")
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	for i := 0; i < 10; i++ {
		l.Admit("1.2.3.4")
	}
	// All ten entries fall out of the 60s window.
	ft.advance(61 * time.Second)

	if !l.Admit("1.2.3.4") {
		t.Fatal("request outside the window must be admitted")
	}
}

func TestAdmit_ClientsIndependent(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	for i := 0; i < 11; i++ {
		l.Admit("1.1.1.1")
	}
	if l.Admit("1.1.1.1") {
		t.Fatal("first client should be banned")
	}
	if !l.Admit("2.2.2.2") {
		t.Fatal("second client must be unaffected")
	}
}

func TestSweep_EvictsIdleClients(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	for i := 0; i < 50; i++ {
		l.Admit(string(rune('a' + i)))
	}

	// The periodic sweep removes windows of clients that never return.
	ft.advance(61 * time.Second)

	l.mu.Lock()
	remaining := len(l.windows)
	l.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d idle client windows survived the sweep, want 0", remaining)
	}

	// Sweep re-arms: a later idle generation is evicted too.
	l.Admit("echo")
	ft.advance(61 * time.Second)

	l.mu.Lock()
	remaining = len(l.windows)
	l.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d windows survived the second sweep, want 0", remaining)
	}
}

func TestAdmit_ConcurrentSameClient(t *testing.T) {
	ft := newFakeTime()
	l := newTestLimiter(ft)

	var wg sync.WaitGroup
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.Admit("9.9.9.9")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 10 {
		t.Fatalf("admitted %d concurrent requests, want exactly 10", count)
	}
}
