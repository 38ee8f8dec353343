package model

import (
	"errors"
	"fmt"
	"regexp"
)

// productRegex matches exchange product identifiers: {BASE}-{QUOTE}
// Example: BTC-USD
var productRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	ErrInvalidProduct = errors.New("model: invalid product identifier")
	ErrInvalidWindow  = errors.New("model: window size must be positive")
)

// Product is a parsed product identifier.
type Product struct {
	ID    string `json:"id"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParseProduct parses and validates a product identifier.
// Format: {BASE}-{QUOTE}, upper-case alphanumerics.
func ParseProduct(id string) (*Product, error) {
	matches := productRegex.FindStringSubmatch(id)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected {BASE}-{QUOTE})", ErrInvalidProduct, id)
	}
	if matches[1] == matches[2] {
		return nil, fmt.Errorf("%w: %q (base equals quote)", ErrInvalidProduct, id)
	}
	return &Product{ID: id, Base: matches[1], Quote: matches[2]}, nil
}

// Validate checks a product configuration row read from the store.
func (c ProductConfig) Validate() error {
	if _, err := ParseProduct(c.Product); err != nil {
		return err
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: %s has max_size %d", ErrInvalidWindow, c.Product, c.MaxSize)
	}
	return nil
}
