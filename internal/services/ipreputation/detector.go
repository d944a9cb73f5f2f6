package ipreputation

import (
	"context"
	"fmt"
	"time"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
)

type PatternBands struct {
	HighVolume    rules.Bands
	AccountFarm   rules.Bands
	SybilActivity rules.Bands
}

// Detector derives the worst suspicious pattern of an IP over a trailing window.
// A zero PatternType means nothing suspicious was found.
type Detector interface {
	Detect(ctx context.Context, ip, actionType string, window time.Duration) (model.SuspiciousPattern, error)
}

// AggregateSource summarises activity of one IP. The Postgres ledger and the Redis
// running counters both provide it.
type AggregateSource interface {
	AggregateIP(ctx context.Context, ip, actionType, accountAction string, since time.Time) (model.ActivityAggregate, error)
}

type AggregateDetector struct {
	name          string
	source        AggregateSource
	bands         PatternBands
	accountAction string
	maxWindow     time.Duration
	now           func() time.Time
}

// NewLedgerDetector recomputes patterns from raw activity records on every call.
func NewLedgerDetector(source AggregateSource, bands PatternBands, accountAction string) *AggregateDetector {
	return newAggregateDetector("ledger", source, bands, accountAction)
}

// NewCounterDetector reads running per-minute aggregates maintained on each ledger write.
// Windows resolve to whole minutes and cannot exceed the counter retention.
func NewCounterDetector(source AggregateSource, bands PatternBands, accountAction string) *AggregateDetector {
	d := newAggregateDetector("counter", source, bands, accountAction)
	d.maxWindow = rules.MaxCounterWindow
	return d
}

func newAggregateDetector(name string, source AggregateSource, bands PatternBands, accountAction string) *AggregateDetector {
	return &AggregateDetector{
		name:          name,
		source:        source,
		bands:         bands,
		accountAction: accountAction,
		now:           time.Now,
	}
}

func (d *AggregateDetector) Name() string {
	return d.name
}

func (d *AggregateDetector) Detect(ctx context.Context, ip, actionType string, window time.Duration) (model.SuspiciousPattern, error) {
	if d.source == nil {
		return model.SuspiciousPattern{}, fmt.Errorf("%s detector source is nil", d.name)
	}
	if d.maxWindow > 0 && window > d.maxWindow {
		return model.SuspiciousPattern{}, fmt.Errorf("%w: %s detector window must not exceed %s", errs.ErrValidation, d.name, d.maxWindow)
	}

	since := d.now().UTC().Add(-window)
	agg, err := d.source.AggregateIP(ctx, ip, actionType, d.accountAction, since)
	if err != nil {
		return model.SuspiciousPattern{}, fmt.Errorf("aggregate %s activity: %w", d.name, err)
	}
	return Classify(ip, agg, d.bands), nil
}

// Classify picks the most severe pattern. Equal severities prefer account farming,
// then sybil activity, then raw volume.
func Classify(ip string, agg model.ActivityAggregate, bands PatternBands) model.SuspiciousPattern {
	candidates := []struct {
		pattern enums.PatternType
		count   int64
		bands   rules.Bands
	}{
		{enums.PatternAccountFarm, agg.AccountsCreated, bands.AccountFarm},
		{enums.PatternSybilActivity, agg.DistinctProfiles, bands.SybilActivity},
		{enums.PatternHighVolume, agg.ActionCount, bands.HighVolume},
	}

	result := model.SuspiciousPattern{IPAddress: ip, LastSeenAt: agg.LastSeenAt}
	for _, c := range candidates {
		severity := c.bands.Classify(c.count)
		if severity.Rank() > result.Severity.Rank() {
			result.PatternType = c.pattern
			result.Severity = severity
			result.Count = c.count
		}
	}
	return result
}
