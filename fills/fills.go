// Package fills holds the fill acceptance policy for partially fillable
// orders. The functions here are pure; the order store applies them inside
// its per-order critical section so concurrent fills are decided against the
// capacity that actually remains.
package fills

import (
	"errors"

	"github.com/fusionbridge/swapd/money"
)

var (
	ErrZeroFill                      = errors.New("fill amount must be positive")
	ErrPartialFillsDisabled          = errors.New("order does not allow partial fills")
	ErrBelowMinFill                  = errors.New("fill amount is below the minimum fill size")
	ErrInsufficientRemainingCapacity = errors.New("insufficient remaining capacity")
)

// Policy are the per-order fill acceptance parameters. DustFoldLimit bounds
// how much unfillable residue may be folded into a fill beyond what the
// resolver asked for; residues above it stay on the order until an exact
// fill takes them or expiry refunds them.
type Policy struct {
	AllowPartialFills bool
	MinFill           money.Money
	DustFoldLimit     money.Money
}

// Decision is the outcome of applying Policy to one fill request.
type Decision struct {
	// Granted is how much of the order this fill takes, after any resize
	// down to remaining capacity and after dust folding.
	Granted money.Money
	// Resized is set when the request exceeded remaining capacity and was
	// shrunk to it.
	Resized bool
	// Folded is the residue absorbed into this fill beyond the request.
	Folded money.Money
	// Remaining is the order capacity left after this fill.
	Remaining money.Money
	Completes bool
}

// Decide applies the fill acceptance policy to a request against the
// capacity that remains. A fill that exactly exhausts the remaining amount
// is always acceptable, even below the minimum fill size; anything else must
// meet the minimum. Requests beyond remaining capacity are resized down,
// which is how the loser of a concurrent fill race gets whatever is left.
func Decide(p Policy, remaining, requested money.Money) (Decision, error) {
	if requested == 0 {
		return Decision{}, ErrZeroFill
	}
	if remaining == 0 {
		return Decision{}, ErrInsufficientRemainingCapacity
	}

	granted := requested
	resized := false
	if granted > remaining {
		granted = remaining
		resized = true
	}
	if !p.AllowPartialFills && granted < remaining {
		return Decision{}, ErrPartialFillsDisabled
	}
	if granted < p.MinFill && granted != remaining {
		return Decision{}, ErrBelowMinFill
	}

	rest := remaining.Sub(granted)
	var folded money.Money
	if rest > 0 && rest <= p.MinFill && rest <= p.DustFoldLimit {
		folded = rest
		granted += rest
		rest = 0
	}

	return Decision{
		Granted:   granted,
		Resized:   resized,
		Folded:    folded,
		Remaining: rest,
		Completes: rest == 0,
	}, nil
}
