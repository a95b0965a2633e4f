package features

import "sort"

// UnknownLocation is the code for locations the encoder never saw during
// training.
const UnknownLocation = -1

// LocationEncoder is a stable location-to-index mapping. It is built once
// at training time and persisted inside the model bundle, so inference
// never recomputes a mapping that could drift from training.
type LocationEncoder struct {
	Codes map[string]int `json:"codes"`
}

// NewLocationEncoder fits an encoder over the given locations. Codes are
// assigned in sorted order so the mapping is deterministic regardless of
// input order.
func NewLocationEncoder(locations []string) *LocationEncoder {
	seen := make(map[string]struct{}, len(locations))
	unique := make([]string, 0, len(locations))
	for _, loc := range locations {
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		unique = append(unique, loc)
	}
	sort.Strings(unique)

	codes := make(map[string]int, len(unique))
	for i, loc := range unique {
		codes[loc] = i
	}
	return &LocationEncoder{Codes: codes}
}

// Encode returns the code for a location, or UnknownLocation if the
// location was not present at training time.
func (e *LocationEncoder) Encode(location string) int {
	if e == nil || e.Codes == nil {
		return UnknownLocation
	}
	code, ok := e.Codes[location]
	if !ok {
		return UnknownLocation
	}
	return code
}

// Len returns the number of known locations.
func (e *LocationEncoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Codes)
}
