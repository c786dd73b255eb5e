// Package models defines the core domain entities: blocks, topics, budgets and allocation plans.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Block is the snapshot of a chain head the allocator reacts to.
type Block struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
	GasLimit  uint64 `json:"gas_limit"`
}

// Validate checks block field constraints.
func (b Block) Validate() error {
	if b.Timestamp <= 0 {
		return errors.New("block timestamp must be positive")
	}
	if b.GasLimit == 0 {
		return errors.New("block gas limit must not be zero")
	}
	return nil
}

// Topic is the address of one eligible prediction feed contract.
type Topic string

// NormalizeTopic lower-cases an address so subgraph ids and configured
// addresses compare equal.
func NormalizeTopic(addr string) Topic {
	return Topic(strings.ToLower(strings.TrimSpace(addr)))
}

func (t Topic) String() string { return string(t) }

// MarketFilters narrows the set of eligible feeds. Each field is a
// comma-separated list; an empty field allows everything.
type MarketFilters struct {
	Pairs      string
	Timeframes string
	Sources    string
	Owners     string
}

// IsZero reports whether no filter is set.
func (f MarketFilters) IsZero() bool {
	return f.Pairs == "" && f.Timeframes == "" && f.Sources == "" && f.Owners == ""
}

func (f MarketFilters) String() string {
	if f.IsZero() {
		return "none"
	}
	return fmt.Sprintf("pair=%q timeframe=%q source=%q owners=%q", f.Pairs, f.Timeframes, f.Sources, f.Owners)
}
