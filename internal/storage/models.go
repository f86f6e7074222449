package storage

// PriceSample is one recorded wholesale price observation. Immutable once
// recorded; appended by the TWAP tracker only.
type PriceSample struct {
	TS    int64   `json:"ts"`    // epoch seconds
	Price float64 `json:"price"` // c/kWh, 2-decimal rounded
}

// schemaVersion is bumped whenever the persisted shape changes.
const schemaVersion = 1
