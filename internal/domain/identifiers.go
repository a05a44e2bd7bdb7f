package domain

import (
	"fmt"
	"strings"
)

// Venue is the trading destination (exchange or broker) an order is routed to.
type Venue string

// TraderID identifies the trader instance, formatted NAME-TAG (e.g. "TESTER-001").
type TraderID string

// NewTraderID builds a TraderID from a name and an id tag.
func NewTraderID(name, tag string) TraderID {
	return TraderID(strings.ToUpper(name) + "-" + tag)
}

// Tag returns the id tag part of the trader id.
func (t TraderID) Tag() string {
	s := string(t)
	if i := strings.LastIndex(s, "-"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// StrategyID identifies the strategy that issued a command.
type StrategyID string

// Tag returns the id tag part of the strategy id (the text after the last '-').
func (s StrategyID) Tag() string {
	str := string(s)
	if i := strings.LastIndex(str, "-"); i >= 0 {
		return str[i+1:]
	}
	return str
}

// ClientOrderID is the engine/strategy assigned order identifier.
type ClientOrderID string

// OrderID is the venue assigned order identifier, empty until acknowledged.
type OrderID string

// PositionID identifies a position.
type PositionID string

// ExecutionID uniquely identifies one fill.
type ExecutionID string

// AccountID identifies an account at a venue. Issuer is always the venue.
type AccountID struct {
	Issuer Venue  `json:"issuer"`
	Number string `json:"number"`
}

// NewAccountID creates an AccountID for the given venue and account number.
func NewAccountID(issuer Venue, number string) AccountID {
	return AccountID{Issuer: issuer, Number: number}
}

// ParseAccountID parses an ISSUER-NUMBER string.
func ParseAccountID(s string) (AccountID, error) {
	i := strings.Index(s, "-")
	if i <= 0 || i == len(s)-1 {
		return AccountID{}, fmt.Errorf("invalid account id '%s': expected ISSUER-NUMBER", s)
	}
	return AccountID{Issuer: Venue(s[:i]), Number: s[i+1:]}, nil
}

// String returns the ISSUER-NUMBER form.
func (a AccountID) String() string {
	return string(a.Issuer) + "-" + a.Number
}

// IsZero reports whether the account id is unset.
func (a AccountID) IsZero() bool {
	return a.Issuer == "" && a.Number == ""
}

// InstrumentID identifies a tradable instrument at a venue.
type InstrumentID struct {
	Symbol string `json:"symbol"`
	Venue  Venue  `json:"venue"`
}

// NewInstrumentID creates an InstrumentID.
func NewInstrumentID(symbol string, venue Venue) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// String returns the SYMBOL.VENUE form.
func (i InstrumentID) String() string {
	return i.Symbol + "." + string(i.Venue)
}
