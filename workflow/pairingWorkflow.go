package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"github.com/bsm/redislock"
)

type SessionState string

const (
	SessionSuggested           SessionState = "suggested"
	SessionPendingConfirmation SessionState = "pending_confirmation"
	SessionPreviewRequired     SessionState = "preview_required"
	SessionConfirmed           SessionState = "confirmed"
	SessionRejected            SessionState = "rejected"
)

func (s SessionState) terminal() bool {
	return s == SessionConfirmed || s == SessionRejected
}

// PairingSession tracks one candidate pair from suggestion to a terminal
// state. At most one non-terminal session exists per invoice id; terminal
// sessions are discarded, not archived.
type PairingSession struct {
	InvoiceID      string            `json:"invoiceId"`
	DeliveryNoteID string            `json:"deliveryNoteId"`
	State          SessionState      `json:"state"`
	Confidence     float64           `json:"confidence"`
	LastValidation *ValidationResult `json:"lastValidation,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Committer is the durable side of a confirmation. The production
// implementation writes through gorm; tests swap in a fake.
type Committer interface {
	CommitPairing(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64, warnings []string) (*models.CommitResult, error)
	RemovePairing(ctx context.Context, invoiceId string) error
	RecordRejection(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64) error
}

// StoreCommitter is the gorm-backed Committer.
type StoreCommitter struct{}

func (StoreCommitter) CommitPairing(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64, warnings []string) (*models.CommitResult, error) {
	return models.CommitPairing(ctx, invoiceId, deliveryNoteId, matchScore, warnings)
}

func (StoreCommitter) RemovePairing(ctx context.Context, invoiceId string) error {
	return models.RemovePairing(ctx, invoiceId)
}

func (StoreCommitter) RecordRejection(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64) error {
	return models.RecordPairingRejection(ctx, invoiceId, deliveryNoteId, matchScore)
}

const defaultCommitTimeout = 10 * time.Second

// ConfirmStatus is the observable outcome of a Confirm call that did not
// error.
type ConfirmStatus string

const (
	ConfirmStatusConfirmed       ConfirmStatus = "confirmed"
	ConfirmStatusPreviewRequired ConfirmStatus = "preview_required"
	ConfirmStatusAlreadyLinked   ConfirmStatus = "already_linked"
)

type ConfirmOutcome struct {
	Status     ConfirmStatus        `json:"status"`
	Validation ValidationResult     `json:"validation"`
	Commit     *models.CommitResult `json:"commit,omitempty"`
	Session    *PairingSession      `json:"session,omitempty"`
}

// Engine drives pairing sessions. Sessions live in memory keyed by invoice
// id; durable state lives behind the Committer.
type Engine struct {
	Fetcher       DocumentFetcher
	Validator     *Validator
	Committer     Committer
	CommitTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*PairingSession
	guard    *commitGuard
}

func NewEngine(fetcher DocumentFetcher, committer Committer) *Engine {
	return &Engine{
		Fetcher:       fetcher,
		Validator:     NewValidator(),
		Committer:     committer,
		CommitTimeout: defaultCommitTimeout,
		sessions:      make(map[string]*PairingSession),
		guard:         newCommitGuard(),
	}
}

// Suggest opens a session for a candidate pair. Re-suggesting the identical
// pair returns the existing session; a different note while a session is
// still active fails with ErrorSessionState.
func (e *Engine) Suggest(ctx context.Context, invoiceId, deliveryNoteId string, confidence float64) (*PairingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.sessions[invoiceId]; ok && !existing.State.terminal() {
		if existing.DeliveryNoteID == deliveryNoteId {
			return copySession(existing), nil
		}
		return nil, fmt.Errorf("invoice %s already has an active session with %s: %w",
			invoiceId, existing.DeliveryNoteID, utils.ErrorSessionState)
	}

	now := time.Now().UTC()
	session := &PairingSession{
		InvoiceID:      invoiceId,
		DeliveryNoteID: deliveryNoteId,
		State:          SessionSuggested,
		Confidence:     confidence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.sessions[invoiceId] = session
	return copySession(session), nil
}

// OpenConfirmation moves a suggested session to the confirmation surface.
func (e *Engine) OpenConfirmation(ctx context.Context, invoiceId string) (*PairingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[invoiceId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	if session.State != SessionSuggested {
		return nil, fmt.Errorf("cannot open confirmation from state %s: %w",
			session.State, utils.ErrorSessionState)
	}
	session.State = SessionPendingConfirmation
	session.UpdatedAt = time.Now().UTC()
	return copySession(session), nil
}

// Confirm attempts to commit the session's pair. Validation always runs
// fresh here, regardless of what any earlier step computed.
//
// From PendingConfirmation, a validation that requires preview moves the
// session to PreviewRequired and returns without committing. From
// PreviewRequired, override must be set or the call fails. Only one commit
// may be in flight per invoice; a concurrent second call fails with
// ErrorCommitConflict. A commit that exceeds CommitTimeout fails with
// ErrorCommitTimeout and is never retried automatically.
func (e *Engine) Confirm(ctx context.Context, invoiceId string, override bool) (*ConfirmOutcome, error) {
	e.mu.Lock()
	session, ok := e.sessions[invoiceId]
	if !ok {
		e.mu.Unlock()
		return nil, utils.ErrorRecordNotFound
	}
	if session.State != SessionPendingConfirmation && session.State != SessionPreviewRequired {
		state := session.State
		e.mu.Unlock()
		return nil, fmt.Errorf("cannot confirm from state %s: %w", state, utils.ErrorSessionState)
	}
	if session.State == SessionPreviewRequired && !override {
		e.mu.Unlock()
		return nil, utils.ErrorOverrideRequired
	}
	deliveryNoteId := session.DeliveryNoteID
	fromPreview := session.State == SessionPreviewRequired
	e.mu.Unlock()

	if !e.guard.acquire(invoiceId) {
		return nil, utils.ErrorCommitConflict
	}
	defer e.guard.release(invoiceId)

	release, err := e.obtainDistributedLock(ctx, invoiceId)
	if err != nil {
		return nil, err
	}
	defer release()

	validation, err := e.validatePair(ctx, invoiceId, deliveryNoteId)
	if err != nil {
		return nil, err
	}

	if !override && !fromPreview && validation.RequiresPreview() {
		e.mu.Lock()
		if s, ok := e.sessions[invoiceId]; ok {
			s.State = SessionPreviewRequired
			s.LastValidation = &validation
			s.UpdatedAt = time.Now().UTC()
			session = copySession(s)
		}
		e.mu.Unlock()
		return &ConfirmOutcome{
			Status:     ConfirmStatusPreviewRequired,
			Validation: validation,
			Session:    session,
		}, nil
	}

	timeout := e.CommitTimeout
	if timeout <= 0 {
		timeout = defaultCommitTimeout
	}
	commitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	commit, err := e.Committer.CommitPairing(commitCtx, invoiceId, deliveryNoteId,
		validation.MatchScore, validation.Warnings)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(commitCtx.Err(), context.DeadlineExceeded) {
			return nil, utils.ErrorCommitTimeout
		}
		return nil, err
	}

	e.mu.Lock()
	delete(e.sessions, invoiceId)
	e.mu.Unlock()

	status := ConfirmStatusConfirmed
	if commit.AlreadyLinked {
		status = ConfirmStatusAlreadyLinked
	}
	return &ConfirmOutcome{
		Status:     status,
		Validation: validation,
		Commit:     commit,
	}, nil
}

// Reject discards the session and records the rejection for the audit
// stream. Rejecting an invoice with no session is a no-op. A session still in
// Suggested is discarded silently: nothing was presented for confirmation, so
// there is no user decision to audit.
func (e *Engine) Reject(ctx context.Context, invoiceId string) error {
	e.mu.Lock()
	session, ok := e.sessions[invoiceId]
	if !ok || session.State.terminal() {
		e.mu.Unlock()
		return nil
	}
	state := session.State
	deliveryNoteId := session.DeliveryNoteID
	confidence := session.Confidence
	delete(e.sessions, invoiceId)
	e.mu.Unlock()

	if state != SessionPendingConfirmation && state != SessionPreviewRequired {
		return nil
	}

	if err := e.Committer.RecordRejection(ctx, invoiceId, deliveryNoteId, confidence); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "pairingWorkflow.go", "Reject",
			"rejection audit write failed", invoiceId, err)
	}
	return nil
}

// Unlink removes a durable pairing outside any session.
func (e *Engine) Unlink(ctx context.Context, invoiceId string) error {
	if !e.guard.acquire(invoiceId) {
		return utils.ErrorCommitConflict
	}
	defer e.guard.release(invoiceId)
	return e.Committer.RemovePairing(ctx, invoiceId)
}

// Session returns a snapshot of the active session, if any.
func (e *Engine) Session(invoiceId string) (*PairingSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[invoiceId]
	if !ok {
		return nil, false
	}
	return copySession(session), true
}

// Evaluate runs a fresh validation for a pair without touching any session.
func (e *Engine) Evaluate(ctx context.Context, invoiceId, deliveryNoteId string) (*ValidationResult, error) {
	validation, err := e.validatePair(ctx, invoiceId, deliveryNoteId)
	if err != nil {
		return nil, err
	}
	return &validation, nil
}

// AutoPairHighConfidence walks suggestions and commits the ones eligible for
// unattended pairing. A suggestion that turns out to need preview is left in
// PreviewRequired for a user; errors are collected, not fatal.
func (e *Engine) AutoPairHighConfidence(ctx context.Context, suggestions []models.PairingSuggestion) (confirmed int, errs []error) {
	for _, s := range suggestions {
		if !s.AutoPairEligible {
			continue
		}
		if _, err := e.Suggest(ctx, s.InvoiceID, s.DeliveryNoteID, s.Confidence); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.InvoiceID, err))
			continue
		}
		if _, err := e.OpenConfirmation(ctx, s.InvoiceID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.InvoiceID, err))
			continue
		}
		outcome, err := e.Confirm(ctx, s.InvoiceID, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.InvoiceID, err))
			continue
		}
		if outcome.Status == ConfirmStatusConfirmed || outcome.Status == ConfirmStatusAlreadyLinked {
			confirmed++
		}
	}
	return confirmed, errs
}

func (e *Engine) validatePair(ctx context.Context, invoiceId, deliveryNoteId string) (ValidationResult, error) {
	invoice, err := e.Fetcher.InvoiceDetails(ctx, invoiceId)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("invoice fetch: %w", err)
	}
	note, err := e.Fetcher.DeliveryNoteDetails(ctx, deliveryNoteId)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("delivery note fetch: %w", err)
	}
	return e.Validator.EvaluateCandidate(invoice, note), nil
}

// obtainDistributedLock takes the cross-replica commit lock when redis is
// available. Without redis the in-process guard is the only protection.
func (e *Engine) obtainDistributedLock(ctx context.Context, invoiceId string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}

	timeout := e.CommitTimeout
	if timeout <= 0 {
		timeout = defaultCommitTimeout
	}
	lock, err := locker.Obtain(ctx, "PairingCommit:"+invoiceId, timeout, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, utils.ErrorCommitConflict
		}
		// Redis being down must not block commits; the guard still holds.
		logger := config.GetLogger()
		config.LogError(logger, "pairingWorkflow.go", "obtainDistributedLock",
			"redis lock unavailable", invoiceId, err)
		return func() {}, nil
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

func copySession(s *PairingSession) *PairingSession {
	clone := *s
	if s.LastValidation != nil {
		v := *s.LastValidation
		clone.LastValidation = &v
	}
	return &clone
}
