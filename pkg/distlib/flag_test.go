package distlib

import (
	"sync"
	"testing"
)

func TestInstallFlag_AllFinishedAfterExactlyNeeded(t *testing.T) {
	for _, needed := range []int{1, 2, 5, 16} {
		f := NewInstallFlag(needed+1, needed)
		for i := 0; i < needed; i++ {
			if f.IsAllFinished() {
				t.Fatalf("needed=%d: finished after %d increments", needed, i)
			}
			f.Increment(i%2 == 0)
		}
		if !f.IsAllFinished() {
			t.Fatalf("needed=%d: not finished after %d increments", needed, needed)
		}
	}
}

func TestInstallFlag_ConcurrentIncrements(t *testing.T) {
	const needed = 64
	f := NewInstallFlag(needed, needed)

	var wg sync.WaitGroup
	for i := 0; i < needed; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.Increment(i == 7)
		}(i)
	}
	wg.Wait()

	if !f.IsAllFinished() {
		t.Fatal("expected all finished")
	}
	if !f.AnySucceeded() {
		t.Fatal("expected anySucceeded")
	}
	_, _, finished := f.Counts()
	if finished != needed {
		t.Fatalf("expected %d finished, got %d", needed, finished)
	}
}

func TestInstallFlag_ExtraIncrementsIgnored(t *testing.T) {
	f := NewInstallFlag(3, 2)
	f.Increment(false)
	f.Increment(false)
	f.Increment(true)

	_, needed, finished := f.Counts()
	if finished != needed {
		t.Fatalf("finished %d exceeds needed %d", finished, needed)
	}
	if f.AnySucceeded() {
		t.Fatal("increment beyond needed must not count")
	}
}

func TestInstallFlag_ZeroNeededIsFinished(t *testing.T) {
	if !NewInstallFlag(3, 0).IsAllFinished() {
		t.Fatal("flag with nothing needed should be finished")
	}
}

func TestOneShotInstallFlag_ForwardsOnce(t *testing.T) {
	shared := NewInstallFlag(2, 2)
	a := NewOneShotInstallFlag(shared)
	b := NewOneShotInstallFlag(shared)

	if a.Done() {
		t.Fatal("fresh flag is not done")
	}
	if !a.Increment(true) {
		t.Fatal("first increment should be forwarded")
	}
	if !a.Done() || b.Done() {
		t.Fatal("only the incremented flag is done")
	}
	if a.Increment(true) {
		t.Fatal("second increment should be dropped")
	}
	if a.IsAllFinished() {
		t.Fatal("sibling has not finished yet")
	}
	b.Increment(false)
	if !a.IsAllFinished() || !b.IsAllFinished() {
		t.Fatal("both siblings finished")
	}
	if a.Shared() != shared {
		t.Fatal("Shared should return the wrapped flag")
	}
}

func TestInstallSemaphore_DelayBlocksInstall(t *testing.T) {
	s := NewInstallSemaphore()
	if !s.RequireDelay() {
		t.Fatal("fresh semaphore should accept delay")
	}
	if !s.RequireDelay() {
		t.Fatal("delay should be idempotent")
	}
	for i := 0; i < 3; i++ {
		if s.RequireInstall() {
			t.Fatal("install granted after delay")
		}
	}
	if !s.IsDelayed() || s.Installs() != 0 {
		t.Fatal("semaphore should stay delayed")
	}
}

func TestInstallSemaphore_InstallBlocksDelay(t *testing.T) {
	s := NewInstallSemaphore()
	if !s.RequireInstall() {
		t.Fatal("fresh semaphore should grant install")
	}
	if s.RequireDelay() {
		t.Fatal("delay must not undo a granted install")
	}
	if s.IsDelayed() {
		t.Fatal("semaphore must not be delayed")
	}
	if !s.RequireInstall() || s.Installs() != 2 {
		t.Fatalf("expected 2 installs, got %d", s.Installs())
	}
}

func TestInstallSemaphore_RaceHasOneWinner(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewInstallSemaphore()
		var delayed, installed bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			delayed = s.RequireDelay()
		}()
		go func() {
			defer wg.Done()
			installed = s.RequireInstall()
		}()
		wg.Wait()
		if delayed == installed {
			t.Fatalf("iteration %d: delayed=%v installed=%v", i, delayed, installed)
		}
	}
}
