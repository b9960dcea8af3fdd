package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/models"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
)

type commitCall struct {
	invoiceId      string
	deliveryNoteId string
	matchScore     float64
}

type fakeCommitter struct {
	mu            sync.Mutex
	commits       []commitCall
	rejections    []commitCall
	alreadyLinked bool
	block         chan struct{}
}

func (f *fakeCommitter) CommitPairing(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64, warnings []string) (*models.CommitResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{invoiceId, deliveryNoteId, matchScore})
	return &models.CommitResult{AlreadyLinked: f.alreadyLinked, Warnings: warnings}, nil
}

func (f *fakeCommitter) RemovePairing(ctx context.Context, invoiceId string) error {
	return nil
}

func (f *fakeCommitter) RecordRejection(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, commitCall{invoiceId, deliveryNoteId, matchScore})
	return nil
}

func (f *fakeCommitter) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func cleanFetcher() *fakeFetcher {
	return &fakeFetcher{
		invoices: map[string]*models.DocumentDetails{
			"inv-1": invoiceDoc("inv-1", 25,
				docItem("Chicken breast", 10, 2),
				docItem("Milk 1L", 5, 1)),
		},
		notes: map[string]*models.DocumentDetails{
			"dn-1": noteDoc("dn-1", 25,
				docItem("chicken breast", 10, 2),
				docItem("Milk 1L", 5, 1)),
		},
	}
}

func shortDeliveryFetcher() *fakeFetcher {
	f := cleanFetcher()
	f.notes["dn-1"] = noteDoc("dn-1", 25,
		docItem("chicken breast", 8, 2),
		docItem("Milk 1L", 5, 1))
	return f
}

func openSession(t *testing.T, engine *Engine, invoiceId, noteId string) {
	t.Helper()
	if _, err := engine.Suggest(context.Background(), invoiceId, noteId, 0.9); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.OpenConfirmation(context.Background(), invoiceId); err != nil {
		t.Fatal(err)
	}
}

func TestConfirmDirectCommit(t *testing.T) {
	committer := &fakeCommitter{}
	engine := NewEngine(cleanFetcher(), committer)
	openSession(t, engine, "inv-1", "dn-1")

	outcome, err := engine.Confirm(context.Background(), "inv-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != ConfirmStatusConfirmed {
		t.Errorf("status = %s, want confirmed", outcome.Status)
	}
	if committer.commitCount() != 1 {
		t.Errorf("commit count = %d, want 1", committer.commitCount())
	}
	if _, active := engine.Session("inv-1"); active {
		t.Errorf("confirmed session was not discarded")
	}
}

func TestConfirmMovesToPreviewOnWarnings(t *testing.T) {
	committer := &fakeCommitter{}
	engine := NewEngine(shortDeliveryFetcher(), committer)
	openSession(t, engine, "inv-1", "dn-1")

	outcome, err := engine.Confirm(context.Background(), "inv-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != ConfirmStatusPreviewRequired {
		t.Fatalf("status = %s, want preview_required", outcome.Status)
	}
	if committer.commitCount() != 0 {
		t.Errorf("commit ran despite preview requirement")
	}

	session, active := engine.Session("inv-1")
	if !active || session.State != SessionPreviewRequired {
		t.Fatalf("session state = %+v, want preview_required", session)
	}
	if session.LastValidation == nil || len(session.LastValidation.Warnings) == 0 {
		t.Errorf("preview session does not carry the validation result")
	}

	// Without override the preview state refuses to commit.
	if _, err := engine.Confirm(context.Background(), "inv-1", false); !errors.Is(err, utils.ErrorOverrideRequired) {
		t.Errorf("confirm without override = %v, want ErrorOverrideRequired", err)
	}

	// Override commits.
	outcome, err = engine.Confirm(context.Background(), "inv-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != ConfirmStatusConfirmed {
		t.Errorf("override status = %s, want confirmed", outcome.Status)
	}
	if committer.commitCount() != 1 {
		t.Errorf("commit count = %d, want 1", committer.commitCount())
	}
}

func TestConfirmIdempotentPair(t *testing.T) {
	committer := &fakeCommitter{alreadyLinked: true}
	engine := NewEngine(cleanFetcher(), committer)
	openSession(t, engine, "inv-1", "dn-1")

	outcome, err := engine.Confirm(context.Background(), "inv-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != ConfirmStatusAlreadyLinked {
		t.Errorf("status = %s, want already_linked", outcome.Status)
	}
}

func TestConfirmConflictOnConcurrentCommit(t *testing.T) {
	committer := &fakeCommitter{block: make(chan struct{})}
	engine := NewEngine(cleanFetcher(), committer)
	openSession(t, engine, "inv-1", "dn-1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := engine.Confirm(context.Background(), "inv-1", false)
		firstDone <- err
	}()

	// Wait for the first commit to take the in-flight slot.
	deadline := time.Now().Add(2 * time.Second)
	for !engineGuardBusy(engine, "inv-1") {
		if time.Now().After(deadline) {
			t.Fatal("first commit never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := engine.Confirm(context.Background(), "inv-1", false); !errors.Is(err, utils.ErrorCommitConflict) {
		t.Errorf("second confirm = %v, want ErrorCommitConflict", err)
	}

	close(committer.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
}

func engineGuardBusy(e *Engine, invoiceId string) bool {
	e.guard.mu.Lock()
	defer e.guard.mu.Unlock()
	_, busy := e.guard.inFlight[invoiceId]
	return busy
}

func TestConfirmTimeout(t *testing.T) {
	committer := &fakeCommitter{block: make(chan struct{})}
	engine := NewEngine(cleanFetcher(), committer)
	engine.CommitTimeout = 50 * time.Millisecond
	openSession(t, engine, "inv-1", "dn-1")

	_, err := engine.Confirm(context.Background(), "inv-1", false)
	if !errors.Is(err, utils.ErrorCommitTimeout) {
		t.Errorf("confirm = %v, want ErrorCommitTimeout", err)
	}
	if committer.commitCount() != 0 {
		t.Errorf("timed-out commit was recorded")
	}
}

func TestFreshValidationOnRecommit(t *testing.T) {
	fetcher := cleanFetcher()
	committer := &fakeCommitter{}
	engine := NewEngine(fetcher, committer)

	openSession(t, engine, "inv-1", "dn-1")
	if _, err := engine.Confirm(context.Background(), "inv-1", false); err != nil {
		t.Fatal(err)
	}

	// The documents change between unlink and re-commit; the second commit
	// must see a newly computed score, not the first session's.
	if err := engine.Unlink(context.Background(), "inv-1"); err != nil {
		t.Fatal(err)
	}
	fetcher.notes["dn-1"] = noteDoc("dn-1", 25,
		docItem("chicken breast", 8, 2),
		docItem("Milk 1L", 5, 1))

	openSession(t, engine, "inv-1", "dn-1")
	outcome, err := engine.Confirm(context.Background(), "inv-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != ConfirmStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", outcome.Status)
	}

	if committer.commitCount() != 2 {
		t.Fatalf("commit count = %d, want 2", committer.commitCount())
	}
	if committer.commits[0].matchScore == committer.commits[1].matchScore {
		t.Errorf("second commit reused the first validation score %v", committer.commits[0].matchScore)
	}
	if len(outcome.Validation.Warnings) == 0 {
		t.Errorf("second validation did not reflect the changed documents")
	}
}

func TestRejectDiscardsSession(t *testing.T) {
	committer := &fakeCommitter{}
	engine := NewEngine(cleanFetcher(), committer)
	openSession(t, engine, "inv-1", "dn-1")

	if err := engine.Reject(context.Background(), "inv-1"); err != nil {
		t.Fatal(err)
	}
	if _, active := engine.Session("inv-1"); active {
		t.Errorf("rejected session was not discarded")
	}
	if len(committer.rejections) != 1 {
		t.Errorf("rejection count = %d, want 1", len(committer.rejections))
	}

	// Rejecting again is a no-op.
	if err := engine.Reject(context.Background(), "inv-1"); err != nil {
		t.Fatal(err)
	}
	if len(committer.rejections) != 1 {
		t.Errorf("repeat reject recorded another event")
	}
}

func TestRejectFromSuggestedSkipsAudit(t *testing.T) {
	committer := &fakeCommitter{}
	engine := NewEngine(cleanFetcher(), committer)
	if _, err := engine.Suggest(context.Background(), "inv-1", "dn-1", 0.9); err != nil {
		t.Fatal(err)
	}

	if err := engine.Reject(context.Background(), "inv-1"); err != nil {
		t.Fatal(err)
	}
	if _, active := engine.Session("inv-1"); active {
		t.Errorf("dismissed suggestion was not discarded")
	}
	if len(committer.rejections) != 0 {
		t.Errorf("dismissing a suggestion recorded %d audit events, want 0", len(committer.rejections))
	}
}

func TestSuggestEnforcesOneActiveSession(t *testing.T) {
	engine := NewEngine(cleanFetcher(), &fakeCommitter{})
	if _, err := engine.Suggest(context.Background(), "inv-1", "dn-1", 0.9); err != nil {
		t.Fatal(err)
	}

	// Same pair is returned as-is.
	if _, err := engine.Suggest(context.Background(), "inv-1", "dn-1", 0.9); err != nil {
		t.Errorf("re-suggesting the same pair = %v, want nil", err)
	}

	// A different note while the session is active is refused.
	if _, err := engine.Suggest(context.Background(), "inv-1", "dn-other", 0.9); !errors.Is(err, utils.ErrorSessionState) {
		t.Errorf("conflicting suggest = %v, want ErrorSessionState", err)
	}
}

func TestConfirmRequiresOpenSession(t *testing.T) {
	engine := NewEngine(cleanFetcher(), &fakeCommitter{})

	if _, err := engine.Confirm(context.Background(), "inv-none", false); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Errorf("confirm without session = %v, want ErrorRecordNotFound", err)
	}

	// Suggested but not opened cannot confirm.
	if _, err := engine.Suggest(context.Background(), "inv-1", "dn-1", 0.9); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Confirm(context.Background(), "inv-1", false); !errors.Is(err, utils.ErrorSessionState) {
		t.Errorf("confirm from suggested = %v, want ErrorSessionState", err)
	}
}
