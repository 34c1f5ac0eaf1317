package models

import (
	"fmt"
	"sort"
	"sync"
)

// Series is a named estimation scale.
type Series struct {
	Key    string     `json:"key" yaml:"key"`
	Name   string     `json:"name" yaml:"name"`
	Values []Estimate `json:"values" yaml:"-"`
}

// Contains reports whether value is one of the series cards.
func (s Series) Contains(value Estimate) bool {
	for _, v := range s.Values {
		if v.Equal(value) {
			return true
		}
	}
	return false
}

const (
	SeriesFibonacci         = "fibonacci"
	SeriesModifiedFibonacci = "modified-fibonacci"
	SeriesTShirt            = "tshirt"
	SeriesPowersOfTwo       = "powers-of-2"
)

const (
	TokenUnsure   = "?"
	TokenInfinite = "∞"
	TokenCoffee   = "☕"
)

func numbers(vs ...float64) []Estimate {
	out := make([]Estimate, 0, len(vs))
	for _, v := range vs {
		out = append(out, Number(v))
	}
	return out
}

func tokens(ts ...string) []Estimate {
	out := make([]Estimate, 0, len(ts))
	for _, t := range ts {
		out = append(out, Token(t))
	}
	return out
}

// BuiltinSeries returns the scales every registry starts with.
func BuiltinSeries() []Series {
	return []Series{
		{
			Key:    SeriesFibonacci,
			Name:   "Fibonacci",
			Values: append(numbers(0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89), tokens(TokenUnsure, TokenCoffee)...),
		},
		{
			Key:    SeriesModifiedFibonacci,
			Name:   "Modified Fibonacci",
			Values: append(numbers(0, 0.5, 1, 2, 3, 5, 8, 13, 20, 40, 100), tokens(TokenUnsure, TokenInfinite, TokenCoffee)...),
		},
		{
			Key:    SeriesTShirt,
			Name:   "T-Shirt Sizes",
			Values: tokens("XS", "S", "M", "L", "XL", "XXL", TokenUnsure, TokenCoffee),
		},
		{
			Key:    SeriesPowersOfTwo,
			Name:   "Powers of 2",
			Values: append(numbers(0, 1, 2, 4, 8, 16, 32, 64), tokens(TokenUnsure, TokenCoffee)...),
		},
	}
}

// SeriesRegistry resolves series keys to their card values.
type SeriesRegistry struct {
	mu     sync.RWMutex
	series map[string]Series
}

// NewSeriesRegistry creates a registry preloaded with the built-in scales.
func NewSeriesRegistry() *SeriesRegistry {
	r := &SeriesRegistry{series: make(map[string]Series)}
	for _, s := range BuiltinSeries() {
		r.series[s.Key] = s
	}
	return r
}

// Register adds or replaces a series.
func (r *SeriesRegistry) Register(s Series) error {
	if s.Key == "" {
		return fmt.Errorf("series key is required")
	}
	if len(s.Values) == 0 {
		return fmt.Errorf("series %s has no values", s.Key)
	}
	seen := make(map[Estimate]bool, len(s.Values))
	for _, v := range s.Values {
		if !v.IsSet() {
			return fmt.Errorf("series %s contains an empty value", s.Key)
		}
		if seen[v] {
			return fmt.Errorf("series %s contains duplicate value %s", s.Key, v)
		}
		seen[v] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[s.Key] = s
	return nil
}

// Get returns the series for key.
func (r *SeriesRegistry) Get(key string) (Series, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[key]
	return s, ok
}

// List returns all series ordered by key.
func (r *SeriesRegistry) List() []Series {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Series, 0, len(r.series))
	for _, s := range r.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
