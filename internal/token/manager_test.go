package token

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/parcelpulse/appraisal-api/internal/crypto"
	"github.com/parcelpulse/appraisal-api/internal/database/migrations"
	"github.com/parcelpulse/appraisal-api/internal/repository"
)

// fakeAcquirer returns scripted results and can block to expose coalescing.
type fakeAcquirer struct {
	mu      sync.Mutex
	calls   int
	token   string
	err     error
	blockCh chan struct{} // when set, Acquire waits until it closes
}

func (f *fakeAcquirer) Acquire(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.blockCh
	token, err := f.token, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return token, err
}

func (f *fakeAcquirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestManager_CurrentEmpty(t *testing.T) {
	m := NewManager(&fakeAcquirer{token: "t1"}, time.Minute, 0.1, nil)

	if _, ok := m.Current(); ok {
		t.Error("Current reported a token before any refresh")
	}
}

func TestManager_LoadPersistedWithoutPersistence(t *testing.T) {
	m := NewManager(&fakeAcquirer{token: "t1"}, time.Minute, 0.1, nil)

	// No repo/encryptor configured: a no-op, not an error.
	if err := m.LoadPersisted(context.Background()); err != nil {
		t.Errorf("LoadPersisted: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("Current reported a token with nothing persisted")
	}
}

func TestManager_RefreshNow(t *testing.T) {
	m := NewManager(&fakeAcquirer{token: "t1"}, time.Minute, 0.1, nil)

	got, err := m.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if got != "t1" {
		t.Errorf("RefreshNow = %q", got)
	}

	current, ok := m.Current()
	if !ok || current != "t1" {
		t.Errorf("Current = (%q, %v)", current, ok)
	}

	h := m.Health()
	if !h.HasToken || h.RefreshCount != 1 || h.FailureCount != 0 {
		t.Errorf("Health = %+v", h)
	}
}

func TestManager_FailureKeepsPreviousToken(t *testing.T) {
	acq := &fakeAcquirer{token: "t1"}
	m := NewManager(acq, time.Minute, 0.1, nil)

	if _, err := m.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	acq.mu.Lock()
	acq.err = errors.New("auth endpoint down")
	acq.mu.Unlock()

	if _, err := m.RefreshNow(context.Background()); err == nil {
		t.Fatal("RefreshNow succeeded, want failure")
	}

	// Stale-but-usable: the old token survives the failed refresh.
	current, ok := m.Current()
	if !ok || current != "t1" {
		t.Errorf("Current after failure = (%q, %v), want (t1, true)", current, ok)
	}

	h := m.Health()
	if h.FailureCount != 1 || h.LastFailureReason != "auth endpoint down" {
		t.Errorf("Health = %+v", h)
	}
}

func TestManager_CoalescesConcurrentRefreshes(t *testing.T) {
	block := make(chan struct{})
	acq := &fakeAcquirer{token: "t1", blockCh: block}
	m := NewManager(acq, time.Minute, 0.1, nil)

	const waiters = 8
	results := make(chan string, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.RefreshNow(context.Background())
			if err != nil {
				t.Errorf("RefreshNow: %v", err)
				return
			}
			results <- tok
		}()
	}

	// Give the goroutines time to pile onto the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()
	close(results)

	for tok := range results {
		if tok != "t1" {
			t.Errorf("waiter got %q, want t1", tok)
		}
	}
	if calls := acq.callCount(); calls != 1 {
		t.Errorf("acquirer called %d times, want 1 (coalesced)", calls)
	}
}

func TestManager_AutoRefresh(t *testing.T) {
	acq := &fakeAcquirer{token: "t1"}
	m := NewManager(acq, 20*time.Millisecond, 0, nil)

	m.StartAutoRefresh(context.Background())
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Health().RefreshCount >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("RefreshCount = %d after waiting, want >= 2", m.Health().RefreshCount)
}

func TestManager_Persistence(t *testing.T) {
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	repo := repository.NewSQLiteTokenRepository(db)
	enc, err := crypto.NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	m := NewManager(&fakeAcquirer{token: "secret-token"}, time.Minute, 0, nil,
		WithPersistence(repo, enc))
	if _, err := m.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	// The stored value is ciphertext, not the raw token.
	cached, err := repo.Get(context.Background())
	if err != nil || cached == nil {
		t.Fatalf("Get = (%v, %v)", cached, err)
	}
	if cached.TokenEncrypted == "secret-token" {
		t.Error("token persisted in plaintext")
	}

	// A second manager restores it across a "restart".
	m2 := NewManager(&fakeAcquirer{token: "unused"}, time.Minute, 0, nil,
		WithPersistence(repo, enc))
	if err := m2.LoadPersisted(context.Background()); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	current, ok := m2.Current()
	if !ok || current != "secret-token" {
		t.Errorf("restored token = (%q, %v)", current, ok)
	}
}

func TestManager_LoadPersisted_BadCiphertext(t *testing.T) {
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	repo := repository.NewSQLiteTokenRepository(db)
	if err := repo.Save(context.Background(), "garbage", time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	enc, _ := crypto.NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	m := NewManager(&fakeAcquirer{token: "t"}, time.Minute, 0, nil,
		WithPersistence(repo, enc))

	// Undecryptable cache is ignored, not fatal.
	if err := m.LoadPersisted(context.Background()); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("manager installed a token from garbage ciphertext")
	}
}

func TestManager_NextIntervalJitter(t *testing.T) {
	m := NewManager(&fakeAcquirer{}, 100*time.Second, 0.1, nil)

	for i := 0; i < 100; i++ {
		d := m.nextInterval()
		if d < 90*time.Second || d > 110*time.Second {
			t.Fatalf("nextInterval = %v, want within ±10%%", d)
		}
	}
}
