package tracker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"wsotp/internal/logger"
	"wsotp/internal/metrics"
	"wsotp/internal/pool"
	"wsotp/internal/remote"
)

// DefaultCleanupConcurrency bounds parallel deletes per cleanup.
const DefaultCleanupConcurrency = 8

// CleanupReport counts the outcome of sweeping a number from a user's
// accounts.
type CleanupReport struct {
	Targets int
	Deleted int // a record existed and was removed
	Absent  int // the account had no record of the number
	Failed  int // lookup or delete failed
}

// Cleaned is the number of accounts left without the number.
func (r CleanupReport) Cleaned() int {
	return r.Deleted + r.Absent
}

// Cleaner deletes a number from every account of its owner.
type Cleaner struct {
	client      remote.Client
	concurrency int
}

func NewCleaner(client remote.Client, concurrency int) *Cleaner {
	if concurrency < 1 {
		concurrency = DefaultCleanupConcurrency
	}
	return &Cleaner{client: client, concurrency: concurrency}
}

// Sweep removes phone from every target. knownToken/knownRecord identify a
// record already seen through the leasing account, which saves a lookup.
// Individual failures are counted, never returned.
func (c *Cleaner) Sweep(ctx context.Context, phone string, targets []pool.Target, knownToken, knownRecord string) CleanupReport {
	var (
		mu     sync.Mutex
		report = CleanupReport{Targets: len(targets)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, target := range targets {
		g.Go(func() error {
			outcome := c.sweepOne(gctx, phone, target, knownToken, knownRecord)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeDeleted:
				report.Deleted++
			case outcomeAbsent:
				report.Absent++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.Deleted > 0 {
		metrics.CleanupDeletes.Add(float64(report.Deleted))
	}
	return report
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeDeleted
	outcomeAbsent
)

func (c *Cleaner) sweepOne(ctx context.Context, phone string, target pool.Target, knownToken, knownRecord string) outcome {
	recordID := ""
	if target.Token == knownToken {
		recordID = knownRecord
	}

	if recordID == "" {
		res := c.client.GetStatus(ctx, target.Token, phone)
		switch res.Code {
		case remote.StatusAuthExpired, remote.StatusAPIError:
			logger.Warn("[cleanup] lookup %s on %s: %s", phone, target.Label, res.Label())
			return outcomeFailed
		}
		if res.RecordID == "" {
			return outcomeAbsent
		}
		recordID = res.RecordID
	}

	if !c.client.DeleteNumber(ctx, target.Token, recordID) {
		logger.Warn("[cleanup] delete %s (record %s) on %s failed", phone, recordID, target.Label)
		return outcomeFailed
	}
	return outcomeDeleted
}
