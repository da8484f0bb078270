package tokens_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/testsupport"
	"docflow/internal/tokens"
)

func newRegistry(t *testing.T) (*tokens.Registry, *docstore.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	registry, err := tokens.NewRegistry(store)
	if err != nil {
		t.Fatalf("tokens.NewRegistry: %v", err)
	}
	return registry, store
}

func register(t *testing.T, registry *tokens.Registry, store *docstore.Store, kind tokens.Kind) *tokens.Token {
	t.Helper()
	doc := testsupport.NewDocument(t, store, "file:///input/doc.pdf")
	execution := testsupport.NewExecution(t, store, doc.ID)
	token, err := registry.Register(context.Background(), execution.ID, doc.ID, "", "extract", kind, "job-42")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return token
}

func TestRegisterAndGet(t *testing.T) {
	registry, store := newRegistry(t)
	issued := register(t, registry, store, tokens.KindJob)

	fetched, err := registry.Get(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched == nil || !fetched.Pending() {
		t.Fatalf("expected pending token, got %#v", fetched)
	}
	if fetched.ExternalJobID != "job-42" || fetched.Kind != tokens.KindJob {
		t.Fatalf("unexpected token fields: %#v", fetched)
	}

	missing, err := registry.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get unknown: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown token, got %#v", missing)
	}
}

func TestClaimResolvesExactlyOnce(t *testing.T) {
	registry, store := newRegistry(t)
	issued := register(t, registry, store, tokens.KindJob)
	ctx := context.Background()

	first, claimed, err := registry.Claim(ctx, issued.Token)
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if !claimed || first == nil || first.ResolvedAt == nil {
		t.Fatalf("expected first claim to win, claimed=%v token=%#v", claimed, first)
	}

	second, claimed, err := registry.Claim(ctx, issued.Token)
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if claimed {
		t.Fatal("duplicate callback must not win the claim")
	}
	if second == nil || second.ResolvedAt == nil {
		t.Fatalf("duplicate claim should still see the resolved token, got %#v", second)
	}

	unknown, claimed, err := registry.Claim(ctx, "never-issued")
	if err != nil {
		t.Fatalf("Claim unknown: %v", err)
	}
	if unknown != nil || claimed {
		t.Fatalf("unknown token must not resolve, got %#v claimed=%v", unknown, claimed)
	}
}

func TestClaimUnderConcurrencyHasOneWinner(t *testing.T) {
	registry, store := newRegistry(t)
	issued := register(t, registry, store, tokens.KindReview)

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := registry.Claim(context.Background(), issued.Token)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if claimed {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for range wins {
		total++
	}
	if total != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", total)
	}
}

func TestPendingOlderThan(t *testing.T) {
	registry, store := newRegistry(t)
	ctx := context.Background()

	old := register(t, registry, store, tokens.KindJob)
	fresh := register(t, registry, store, tokens.KindJob)

	// Backdate the first token past the reconciliation cutoff.
	backdated := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	if _, err := store.DB().ExecContext(
		ctx,
		`UPDATE task_tokens SET created_at = ? WHERE token = ?`,
		backdated,
		old.Token,
	); err != nil {
		t.Fatalf("backdate token: %v", err)
	}

	stale, err := registry.PendingOlderThan(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("PendingOlderThan: %v", err)
	}
	if len(stale) != 1 || stale[0].Token != old.Token {
		t.Fatalf("unexpected stale tokens: %#v", stale)
	}

	if _, claimed, err := registry.Claim(ctx, old.Token); err != nil || !claimed {
		t.Fatalf("Claim backdated token: claimed=%v err=%v", claimed, err)
	}
	stale, err = registry.PendingOlderThan(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("PendingOlderThan after claim: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("resolved tokens must not be reported stale: %#v", stale)
	}

	pending, err := registry.PendingForExecution(ctx, fresh.ExecutionID)
	if err != nil {
		t.Fatalf("PendingForExecution: %v", err)
	}
	if len(pending) != 1 || pending[0].Token != fresh.Token {
		t.Fatalf("unexpected pending tokens: %#v", pending)
	}
}

func TestDeleteForExecution(t *testing.T) {
	registry, store := newRegistry(t)
	ctx := context.Background()

	issued := register(t, registry, store, tokens.KindJob)
	if err := registry.DeleteForExecution(ctx, issued.ExecutionID); err != nil {
		t.Fatalf("DeleteForExecution: %v", err)
	}
	gone, err := registry.Get(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected token removed, got %#v", gone)
	}
}
