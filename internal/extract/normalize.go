package extract

import (
	"math"
	"strconv"
	"strings"
)

var amountReplacer = strings.NewReplacer(",", "", "¥", "", "円", "", " ", "", "　", "")

// ParseAmount converts a monetary string to integral yen.
// Commas, currency marks and whitespace are stripped; fractional values are
// rounded. Unparsable input yields nil, never an error.
func ParseAmount(s string) *int64 {
	cleaned := strings.TrimSpace(amountReplacer.Replace(s))
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	v := int64(math.Round(f))
	return &v
}

// ParseCount converts a quantity-like string to an integer, tolerating
// thousands separators. Unparsable input yields nil.
func ParseCount(s string) *int64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	v := int64(math.Round(f))
	return &v
}

// DeriveQuantity resolves the effective quantity for a line item.
// A directly stated quantity wins. Otherwise the quantity is reconstructed
// from case count and units per case, plus any loose (bara) units; loose
// units alone count when no cases are stated.
func DeriveQuantity(quantity, caseCount, baraCount, unitsPerCase *int64) *int64 {
	if quantity != nil {
		return quantity
	}
	if caseCount != nil && unitsPerCase != nil {
		v := *caseCount * *unitsPerCase
		if baraCount != nil {
			v += *baraCount
		}
		return &v
	}
	if baraCount != nil && (caseCount == nil || *caseCount == 0) {
		v := *baraCount
		return &v
	}
	return nil
}
