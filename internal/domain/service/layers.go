package service

import (
	"MarketCascade/internal/domain/models"

	"github.com/shopspring/decimal"
)

// RegimeClassifier turns the current macro bundle into a regime snapshot.
// history may include bundles at or after current.AsOf; those are ignored.
type RegimeClassifier interface {
	Classify(prev *models.RegimeSnapshot, current models.MacroBundle, history []models.MacroBundle) (models.RegimeSnapshot, error)
}

// SectorAnalyzer ranks sectors by capital flow under the given regime (nil when unavailable).
type SectorAnalyzer interface {
	Analyze(bundle models.SectorBundle, regime *models.RegimeSnapshot) ([]models.SectorSnapshot, error)
}

// SignalGenerator produces at most one timing signal for a tier1 asset.
type SignalGenerator interface {
	Generate(in models.SignalInput) (models.SignalOutcome, error)
}

// PositionSizer sizes an order for a signal under a risk profile.
type PositionSizer interface {
	Size(profile models.RiskProfile, equity decimal.Decimal, s models.TradingSignal) (models.SizedOrder, error)
}
