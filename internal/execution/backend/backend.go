// Package backend defines the execution contract shared by every provider.
package backend

import (
	"context"
	"time"
)

// Status classifies the outcome of one attempt.
type Status string

const (
	StatusSuccess     Status = "Success"
	StatusFailed      Status = "Failed"
	StatusTimeout     Status = "Timeout"
	StatusOutOfMemory Status = "OutOfMemory"
)

// Attempt is one execution request. It is owned by a single invokation.
type Attempt struct {
	ID        string
	Language  string
	Code      []byte
	Stdin     string
	Options   []string
	Args      []string
	StartedAt time.Time
}

// Result is produced exactly once per attempt and never modified afterwards.
type Result struct {
	Stdout []byte
	Stderr []byte
	Status Status
	Info   string
}

// Backend executes attempts for one provider.
//
// Execute never returns a transport fault: failures are folded into the
// Result (see Classify). Implementations enforce their own wall-clock ceiling
// and must return promptly once ctx is canceled.
type Backend interface {
	Name() string
	Execute(ctx context.Context, attempt Attempt) Result
}

// Offer is one language advertised by a provider catalog.
type Offer struct {
	ID        string
	Name      string
	Extension string
}

// Source is a backend that can list the languages it serves.
type Source interface {
	Backend
	Languages(ctx context.Context) ([]Offer, error)
}
