package service

import (
	"context"
	"strings"
	"time"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

var ErrInvalidCredentialID = apperr.New(apperr.CodeInvalidArgument, "credential_id is required")

// CurrentState projects the state of the newest chain recorded for
// credentialID. It returns StateUnknown when the id has never been issued.
func (l *Ledger) CurrentState(ctx context.Context, credentialID string) (credential.State, error) {
	ev, ok, err := l.LatestEvent(ctx, credentialID)
	if err != nil || !ok {
		return credential.StateUnknown, err
	}
	return ev.State, nil
}

// LatestEvent returns the first event for credentialID ordered by issued_at
// descending, ties inside a chain resolved by the latest state change.
func (l *Ledger) LatestEvent(ctx context.Context, credentialID string) (credential.Event, bool, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return credential.Event{}, false, ErrInvalidCredentialID
	}
	return latestEvent(ctx, l.store, credentialID)
}

// ChainState projects exactly one chain.
func (l *Ledger) ChainState(ctx context.Context, chain credential.ChainID) (credential.State, error) {
	return chainState(ctx, l.store, chain)
}

// CurrentHolder returns the holder recorded on the latest event for
// credentialID, or "" when there is none.
func (l *Ledger) CurrentHolder(ctx context.Context, credentialID string) (string, error) {
	ev, ok, err := l.LatestEvent(ctx, credentialID)
	if err != nil || !ok {
		return "", err
	}
	return ev.Holder, nil
}

func latestEvent(ctx context.Context, r store.LedgerReader, credentialID string) (credential.Event, bool, error) {
	events, err := r.Query(ctx, store.Query{
		CredentialID: credentialID,
		Order:        store.OrderIssuedDesc,
		Limit:        1,
	})
	if err != nil {
		return credential.Event{}, false, err
	}
	if len(events) == 0 {
		return credential.Event{}, false, nil
	}
	return events[0], true, nil
}

func chainState(ctx context.Context, r store.LedgerReader, chain credential.ChainID) (credential.State, error) {
	events, err := r.Query(ctx, store.Query{Chain: &chain})
	if err != nil {
		return credential.StateUnknown, err
	}
	return credential.CurrentState(events), nil
}

// lastChange returns the latest instant recorded anywhere on the chain.
// A new event may not be dated before it.
func lastChange(chain credential.ChainID, events []credential.Event) time.Time {
	last := chain.IssuedAt
	for _, ev := range events {
		if ev.StateChangedAt.After(last) {
			last = ev.StateChangedAt
		}
	}
	return last
}
