package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorCommitConflict is returned when a second commit is attempted for an
// invoice while one is still outstanding. The caller must not queue or merge
// the attempts.
var ErrorCommitConflict = errors.New("a pairing commit is already in flight for this invoice")

// ErrorCommitTimeout is returned when the commit side effect did not finish
// within the bounded timeout. The commit is not retried automatically.
var ErrorCommitTimeout = errors.New("pairing commit timed out")

// ErrorPairingConflict is returned when an invoice is already linked to a
// different delivery note than the one being committed.
var ErrorPairingConflict = errors.New("invoice is already paired with a different delivery note")

// ErrorSessionState is returned for a workflow transition that is not legal
// from the session's current state.
var ErrorSessionState = errors.New("invalid pairing session state for this transition")

// ErrorOverrideRequired is returned when Confirm is called on a session in
// PreviewRequired without an explicit user override.
var ErrorOverrideRequired = errors.New("explicit override required to confirm with warnings")
