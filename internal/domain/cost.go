package domain

import "fmt"

// CostTable maps each kind to the credits reserved before dispatch.
type CostTable map[JobKind]int64

// DefaultCostTable mirrors the platform's published prices.
func DefaultCostTable() CostTable {
	return CostTable{
		JobKindImage:             5,
		JobKindBanner:            5,
		JobKindLogo:              5,
		JobKindBackgroundRemoval: 2,
		JobKindVideo:             50,
		JobKindPresenterVideo:    100,
		JobKindVoiceover:         10,
	}
}

// Cost resolves the reserved cost for kind.
func (t CostTable) Cost(kind JobKind) (int64, error) {
	cost, ok := t[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if cost < 0 {
		return 0, fmt.Errorf("%w: negative cost for %q", ErrInvalidAmount, kind)
	}
	return cost, nil
}
