package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"MarketCascade/internal/domain/models"
	applogger "MarketCascade/pkg/logger"
	"MarketCascade/pkg/queue"
)

const JobRebuildPosition = "position.rebuild"

type RebuildRequest struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
}

// RebuildJob replays one pair's ledger off the request path.
type RebuildJob struct {
	recon *ReconciliationService
	l     *applogger.Logger
}

func NewRebuildJob(recon *ReconciliationService, l *applogger.Logger) *RebuildJob {
	return &RebuildJob{recon: recon, l: l}
}

func (j *RebuildJob) Type() string { return JobRebuildPosition }

func (j *RebuildJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[RebuildRequest](payload)
	if err != nil {
		return err
	}
	if req.UserID == "" || req.AssetID == "" {
		return queue.Permanent(models.InvalidArgument("rebuild needs user_id and asset_id"))
	}
	pos, err := j.recon.Rebuild(ctx, req.UserID, req.AssetID)
	if err != nil {
		// a ledger that breaks an invariant fails the same way on every replay
		if errors.Is(err, models.ErrInvariantViolation) {
			return queue.Permanent(err)
		}
		return err
	}
	if j.l != nil {
		j.l.Info("position rebuilt",
			applogger.String("user_id", pos.UserID),
			applogger.String("asset_id", pos.AssetID),
			applogger.Int("trades", pos.TradeCount),
		)
	}
	return nil
}

var _ queue.Job = (*RebuildJob)(nil)
