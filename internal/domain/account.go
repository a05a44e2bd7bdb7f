package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrWrongAccount is returned when an account state is applied to a different account.
	ErrWrongAccount = errors.New("account state addressed to a different account")
	// ErrStaleAccountState is returned when an account state is older than the last applied one.
	ErrStaleAccountState = errors.New("stale account state")
)

// Account holds currency balances and margins for one AccountID.
// It changes only through AccountState events.
type Account struct {
	ID         AccountID          `json:"id"`
	Balances   map[string]Balance `json:"balances"`
	Margins    Margins            `json:"margins"`
	EventCount int                `json:"event_count"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewAccount creates an account with no balances.
func NewAccount(id AccountID) *Account {
	return &Account{ID: id, Balances: make(map[string]Balance)}
}

// Apply merges a reported account state: reported currencies are replaced,
// others are kept.
func (a *Account) Apply(ev AccountState) error {
	if ev.AccountID != a.ID {
		return fmt.Errorf("%w: state for %s applied to %s", ErrWrongAccount, ev.AccountID, a.ID)
	}
	if !a.UpdatedAt.IsZero() && ev.Timestamp.Before(a.UpdatedAt) {
		return fmt.Errorf("%w: %s at %s is older than %s", ErrStaleAccountState, a.ID, ev.Timestamp, a.UpdatedAt)
	}
	for _, b := range ev.Balances {
		a.Balances[b.Currency] = b
	}
	a.Margins = ev.Margins
	a.EventCount++
	a.UpdatedAt = ev.Timestamp
	return nil
}

// Balance returns the balance for a currency.
func (a *Account) Balance(currency string) (Balance, bool) {
	b, ok := a.Balances[currency]
	return b, ok
}

// Currencies returns the currencies held, sorted.
func (a *Account) Currencies() []string {
	out := make([]string, 0, len(a.Balances))
	for c := range a.Balances {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the account.
func (a *Account) Snapshot() Account {
	cp := *a
	cp.Balances = make(map[string]Balance, len(a.Balances))
	for k, v := range a.Balances {
		cp.Balances[k] = v
	}
	return cp
}
