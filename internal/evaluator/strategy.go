package evaluator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy is returned for an empty or unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown evaluation strategy")

// Strategy selects which criteria a prompt carries.
type Strategy string

const (
	// StrategyFullCatalog sends the whole catalog and lets the judge pick the item.
	StrategyFullCatalog Strategy = "full-catalog"
	// StrategyClosestTitle maps the section title to one criterion before drafting.
	StrategyClosestTitle Strategy = "closest-title"
)

// Strategies lists the accepted strategy names.
var Strategies = []Strategy{StrategyFullCatalog, StrategyClosestTitle}

// ParseStrategy resolves a strategy name. There is no default: an empty name is an error.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies {
		if s == known {
			return s, nil
		}
	}
	if s == "" {
		return "", fmt.Errorf("%w: no strategy chosen (want %s or %s)", ErrUnknownStrategy, StrategyFullCatalog, StrategyClosestTitle)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}
