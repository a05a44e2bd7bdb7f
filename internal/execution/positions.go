package execution

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"execCore/internal/domain"
)

// positionKey identifies the slot an open position occupies under the netting policy.
type positionKey struct {
	account    domain.AccountID
	instrument domain.InstrumentID
	direction  string // N (netting), L or S (hedging)
}

type positionChange struct {
	kind     domain.EventKind
	position domain.Position
}

// positionBook folds order fills into positions.
type positionBook struct {
	policy    domain.NettingPolicy
	positions map[domain.PositionID]*domain.Position
	open      map[positionKey]domain.PositionID
	seq       map[positionKey]int
}

func newPositionBook(policy domain.NettingPolicy) *positionBook {
	if policy == "" {
		policy = domain.Netting
	}
	return &positionBook{
		policy:    policy,
		positions: make(map[domain.PositionID]*domain.Position),
		open:      make(map[positionKey]domain.PositionID),
		seq:       make(map[positionKey]int),
	}
}

// direction returns the slot a fill of o lands in. Under hedging a reduce-only
// order works against the opposite direction.
func (b *positionBook) direction(o *domain.Order) string {
	if b.policy == domain.Netting {
		return "N"
	}
	long := o.Side == domain.Buy
	if o.ReduceOnly {
		long = !long
	}
	if long {
		return "L"
	}
	return "S"
}

func (b *positionBook) keyFor(o *domain.Order, direction string) positionKey {
	return positionKey{account: o.AccountID, instrument: o.InstrumentID, direction: direction}
}

func (b *positionBook) newPosition(key positionKey, strategyID domain.StrategyID) *domain.Position {
	b.seq[key]++
	n := b.seq[key]
	id := domain.PositionID(fmt.Sprintf("P-%s-%s-%d", key.instrument, key.direction, n))
	p := domain.NewPosition(id, n, key.account, key.instrument, strategyID)
	b.positions[id] = p
	b.open[key] = id
	return p
}

// applyFill folds a fill of o into its position and reports every resulting change.
func (b *positionBook) applyFill(o *domain.Order, f domain.Fill, ts time.Time) []positionChange {
	key := b.keyFor(o, b.direction(o))

	var p *domain.Position
	if f.PositionID != "" {
		p = b.positions[f.PositionID]
		if p == nil {
			p = domain.NewPosition(f.PositionID, 0, o.AccountID, o.InstrumentID, o.StrategyID)
			b.positions[f.PositionID] = p
		}
	} else if id, ok := b.open[key]; ok {
		p = b.positions[id]
	} else {
		p = b.newPosition(key, o.StrategyID)
	}

	wasOpen := p.IsOpen()
	remainder := p.ApplyFill(o.ClientOrderID, o.Side, f, ts)

	var changes []positionChange
	switch {
	case !wasOpen:
		changes = append(changes, positionChange{domain.KindPositionOpened, p.Snapshot()})
	case !p.IsOpen():
		changes = append(changes, positionChange{domain.KindPositionClosed, p.Snapshot()})
		if b.open[key] == p.ID {
			delete(b.open, key)
		}
	default:
		changes = append(changes, positionChange{domain.KindPositionChanged, p.Snapshot()})
	}

	if !remainder.IsPositive() {
		return changes
	}

	// The fill flipped the position: the remainder opens a new identity.
	rest := f
	rest.FillQty = remainder
	rest.Commission = f.Commission.Mul(remainder).Div(f.FillQty)

	kind := domain.KindPositionOpened
	var next *domain.Position
	if f.PositionID != "" {
		next = p
	} else {
		flipDir := "N"
		if b.policy == domain.Hedging {
			flipDir = "S"
			if o.Side == domain.Buy {
				flipDir = "L"
			}
		}
		flipKey := b.keyFor(o, flipDir)
		if id, ok := b.open[flipKey]; ok {
			// hedging: the opposite slot is already held
			next, kind = b.positions[id], domain.KindPositionChanged
		} else {
			next = b.newPosition(flipKey, o.StrategyID)
		}
	}
	next.ApplyFill(o.ClientOrderID, o.Side, rest, ts)
	return append(changes, positionChange{kind, next.Snapshot()})
}

// restore loads persisted positions and rebuilds the open slots and id sequences.
// The slot comes from the id the book issued, since a closed position no longer
// carries the side it was opened with.
func (b *positionBook) restore(positions []domain.Position) {
	for i := range positions {
		p := positions[i]
		b.positions[p.ID] = &p

		dir, n, ok := parsePositionID(p.ID)
		if !ok {
			dir = "N"
			if b.policy == domain.Hedging {
				dir = "L"
				if p.Side == domain.SideShort {
					dir = "S"
				}
			}
		}
		key := positionKey{account: p.AccountID, instrument: p.InstrumentID, direction: dir}
		if p.Sequence > n {
			n = p.Sequence
		}
		if n > b.seq[key] {
			b.seq[key] = n
		}
		if p.IsOpen() {
			b.open[key] = p.ID
		}
	}
}

// parsePositionID splits a book-issued id P-<instrument>-<dir>-<seq> into its
// direction and sequence. Venue-assigned ids do not parse.
func parsePositionID(id domain.PositionID) (string, int, bool) {
	parts := strings.Split(string(id), "-")
	if len(parts) < 4 || parts[0] != "P" {
		return "", 0, false
	}
	dir := parts[len(parts)-2]
	if dir != "N" && dir != "L" && dir != "S" {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return dir, n, true
}

func (b *positionBook) get(id domain.PositionID) (domain.Position, bool) {
	p, ok := b.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return p.Snapshot(), true
}

func (b *positionBook) snapshots(openOnly bool) []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if openOnly && !p.IsOpen() {
			continue
		}
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
