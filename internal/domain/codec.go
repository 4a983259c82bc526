package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// NullableFloat is a float64 that encodes NaN and infinities as JSON null
// and decodes null back to NaN. Document stores and JSON APIs cannot carry
// NaN, and it is a meaningful value in expression data.
type NullableFloat float64

// MarshalJSON implements json.Marshaler.
func (f NullableFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *NullableFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NullableFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = NullableFloat(v)
	return nil
}

// MarshalExpressions encodes a gene -> value mapping as a JSON document
// with null standing in for NaN.
func MarshalExpressions(expressions map[string]float64) ([]byte, error) {
	doc := make(map[string]NullableFloat, len(expressions))
	for gene, v := range expressions {
		doc[gene] = NullableFloat(v)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding expressions: %w", err)
	}
	return data, nil
}

// UnmarshalExpressions is the inverse of MarshalExpressions.
func UnmarshalExpressions(data []byte) (map[string]float64, error) {
	if len(data) == 0 {
		return map[string]float64{}, nil
	}
	var doc map[string]NullableFloat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding expressions: %w", err)
	}
	out := make(map[string]float64, len(doc))
	for gene, v := range doc {
		out[gene] = float64(v)
	}
	return out, nil
}

// MarshalJSON encodes the panel by stored slot name, NaN as null.
func (p GenePanel) MarshalJSON() ([]byte, error) {
	doc := make(map[string]NullableFloat, PanelSize)
	for _, s := range AllSlots() {
		doc[s.String()] = NullableFloat(p.Get(s))
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a panel document keyed by slot name or alias.
func (p *GenePanel) UnmarshalJSON(data []byte) error {
	var doc map[string]NullableFloat
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding panel: %w", err)
	}
	values := make(map[string]float64, len(doc))
	for k, v := range doc {
		values[k] = float64(v)
	}
	*p = PanelFromValues(values)
	return nil
}
