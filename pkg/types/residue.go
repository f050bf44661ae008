package types

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Field limits carried over from the residue entity.
const (
	MaxResidueNameLen = 30
	MaxResidueDescLen = 100
)

// Residue is a batch of recyclable or waste material available for
// collection. RequestToken is nil while the residue is available and holds
// the token of the claiming request otherwise; only the backend writes it.
type Residue struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"desc"`
	Weight       float64 `json:"weight"`
	Volume       float64 `json:"volume"`
	RequestToken *string `json:"requestToken"`
}

// Available reports whether no request currently claims the residue.
func (r *Residue) Available() bool {
	return r.RequestToken == nil
}

// NewResidue carries the caller-supplied fields for ResidueTable.Create.
type NewResidue struct {
	Name        string  `json:"name"`
	Description string  `json:"desc"`
	Weight      float64 `json:"weight"`
	Volume      float64 `json:"volume"`
}

// Validate checks the residue fields. Errors wrap ErrValidation.
func (n NewResidue) Validate() error {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return fmt.Errorf("%w: residue name must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(name) > MaxResidueNameLen {
		return fmt.Errorf("%w: residue name exceeds %d characters", ErrValidation, MaxResidueNameLen)
	}
	if utf8.RuneCountInString(n.Description) > MaxResidueDescLen {
		return fmt.Errorf("%w: residue description exceeds %d characters", ErrValidation, MaxResidueDescLen)
	}
	if err := checkMeasure("weight", n.Weight); err != nil {
		return err
	}
	return checkMeasure("volume", n.Volume)
}

func checkMeasure(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: residue %s must be a finite number", ErrValidation, field)
	}
	if v < 0 {
		return fmt.Errorf("%w: residue %s must not be negative", ErrValidation, field)
	}
	return nil
}
