package models

import "time"

// Layer names used in lineage references and metrics labels.
const (
	LayerMacroInput  = "macro_input"
	LayerSectorInput = "sector_input"
	LayerAssetInput  = "asset_input"
	LayerBars        = "bars"
	LayerRegime      = "regime"
	LayerSector      = "sector"
	LayerAsset       = "asset"
	LayerSignal      = "signal"
)

// ContextRef records one upstream snapshot a computation consumed.
type ContextRef struct {
	Layer string    `json:"layer"`
	Key   string    `json:"key,omitempty"`
	AsOf  time.Time `json:"as_of"`
}

// Freshness decides whether a consumed snapshot is too old. A zero bound disables the check.
type Freshness struct {
	Bound time.Duration
}

// Stale reports whether asOf is older than the bound at now.
func (f Freshness) Stale(asOf, now time.Time) bool {
	if f.Bound <= 0 {
		return false
	}
	return now.Sub(asOf) > f.Bound
}
