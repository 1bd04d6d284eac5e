package client

import "encoding/json"

// UnmarshalJSON distinguishes a leaf property filter from a nested filter
// set by the presence of a "type" field whose value is AND/OR: cohort
// definitions nest FilterSets inside FilterSets arbitrarily deep.
func (e *wireSetElement) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if probe.Type == "AND" || probe.Type == "OR" {
		var nested wireSet
		if err := json.Unmarshal(data, &nested); err != nil {
			return err
		}
		e.Nested = &nested
		return nil
	}

	var leaf wireProperty
	if err := json.Unmarshal(data, &leaf); err != nil {
		return err
	}
	e.Filter = &leaf
	return nil
}
