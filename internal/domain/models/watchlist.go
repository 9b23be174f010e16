package models

import "time"

// ListContext selects one independent watchlist. Every store call takes it explicitly.
type ListContext string

const DefaultListContext ListContext = "global"

type Tier string

const (
	Tier1    Tier = "tier1"
	Tier2    Tier = "tier2"
	Unlisted Tier = ""
)

// WatchlistTier is one asset's current tier membership.
type WatchlistTier struct {
	ListContext ListContext `json:"list_context" db:"list_ctx"`
	Tier        Tier        `json:"tier" db:"tier"`
	AssetID     string      `json:"asset_id" db:"asset_id"`
	SectorID    string      `json:"sector_id" db:"sector_id"`
	EnteredAt   time.Time   `json:"entered_at" db:"entered_at"`
	CurrentRank int         `json:"current_rank" db:"current_rank"`
	LastScore   float64     `json:"last_score" db:"last_score"`
}

type SuggestionType string

const (
	SuggestPromote SuggestionType = "promote"
	SuggestDemote  SuggestionType = "demote"
	SuggestAdd     SuggestionType = "add"
	SuggestRemove  SuggestionType = "remove"
)

type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusApproved SuggestionStatus = "approved"
	StatusRejected SuggestionStatus = "rejected"
	StatusExpired  SuggestionStatus = "expired"
)

func (s SuggestionStatus) Terminal() bool { return s != StatusPending }

// RationaleItem is one scoring factor. Weight is the configured weight, verbatim.
type RationaleItem struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// SuggestionRecord is a proposed tier change awaiting a human decision.
type SuggestionRecord struct {
	ID             string           `json:"id"`
	ListContext    ListContext      `json:"list_context"`
	AssetID        string           `json:"asset_id"`
	SectorID       string           `json:"sector_id,omitempty"`
	SuggestionType SuggestionType   `json:"suggestion_type"`
	Score          float64          `json:"score"`
	Confidence     float64          `json:"confidence"`
	Rationale      []RationaleItem  `json:"rationale"`
	Reason         string           `json:"reason,omitempty"`
	PairedWith     string           `json:"paired_with,omitempty"`
	Status         SuggestionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
	DecidedBy      *string          `json:"decided_by,omitempty"`
	Consumed       []ContextRef     `json:"consumed,omitempty"`
}

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// TierChange is the tier mutation an approved suggestion applies.
// SectorID, when set, replaces the member's stored sector.
type TierChange struct {
	AssetID  string
	SectorID string
	From     Tier
	To       Tier
}

// TierPlanner decides the tier change for an approval against the current tiers.
// Returning ErrNotApplicable expires the suggestion; ErrCapacityExceeded leaves it pending.
type TierPlanner func(s SuggestionRecord, tiers []WatchlistTier) (TierChange, error)

// AssetSnapshot is the asset layer record computed by the watchlist pass.
type AssetSnapshot struct {
	AsOf        time.Time       `json:"as_of"`
	ListContext ListContext     `json:"list_context"`
	AssetID     string          `json:"asset_id"`
	SectorID    string          `json:"sector_id"`
	Score       float64         `json:"score"`
	Factors     []RationaleItem `json:"factors"`
	Tier        Tier            `json:"tier"`
	Consumed    []ContextRef    `json:"consumed"`
}

// TierCount counts members of tier.
func TierCount(tiers []WatchlistTier, tier Tier) int {
	n := 0
	for _, t := range tiers {
		if t.Tier == tier {
			n++
		}
	}
	return n
}

// TierOf returns the tier of asset, or Unlisted.
func TierOf(tiers []WatchlistTier, assetID string) Tier {
	for _, t := range tiers {
		if t.AssetID == assetID {
			return t.Tier
		}
	}
	return Unlisted
}
