package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/kicker/internal/domain/types"
	"github.com/okian/kicker/pkg/logger"
)

// PercentageMultiplier converts ratios to percentages for reporting.
const PercentageMultiplier = 100

// outcome of one planned submission.
type outcome struct {
	match    types.Match
	recorded bool
	replayed bool
	matched  bool
}

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("simulate")
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	log.Info(ctx, "starting kicker simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("matches", cfg.Matches),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", seed),
	)

	client := NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	gen := newGenerator(seed)
	players, err := registerPlayers(ctx, client, gen, cfg.Players)
	if err != nil {
		return nil, fmt.Errorf("player registration failed: %w", err)
	}
	stats.PlayersRegistered = len(players)

	plans := gen.plans(players, cfg.Matches, cfg.Replays, cfg.DrawRate)
	stats.MatchesPlanned = len(plans)
	results := submitAll(ctx, client, cfg, plans, log)
	for _, r := range results {
		switch {
		case r.recorded:
			stats.MatchesRecorded++
		default:
			stats.SubmitFailed++
		}
		if r.replayed {
			stats.Replays++
			if r.matched {
				stats.ReplaysMatched++
			}
		}
	}

	ledger, err := client.Ledger(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger retrieval failed: %w", err)
	}
	final, err := fetchPlayers(ctx, client, players)
	if err != nil {
		return nil, fmt.Errorf("player retrieval failed: %w", err)
	}

	ours, err := verifyLedger(players, final, plans, results, ledger)
	stats.LedgerEntries = ours
	if err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}
	if stats.ReplaysMatched != stats.Replays {
		return stats, fmt.Errorf("%w: %d of %d replays did not return the original match",
			ErrInconsistent, stats.Replays-stats.ReplaysMatched, stats.Replays)
	}

	standings := rankStandings(players, final)
	stats.Agreement = skillAgreement(standings)
	displayStandings(ctx, log, standings, cfg.Top)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

// registerPlayers creates fresh players under a run-unique prefix.
func registerPlayers(ctx context.Context, client *Client, gen *generator, n int) ([]simPlayer, error) {
	prefix := "sim-" + uuid.NewString()[:8]
	out := make([]simPlayer, 0, n)
	for i := range n {
		p, err := client.Register(ctx, fmt.Sprintf("%s-%02d", prefix, i+1))
		if err != nil {
			return nil, err
		}
		out = append(out, simPlayer{Player: p, Skill: gen.skill()})
	}
	return out, nil
}

// submitAll sends every plan with cfg.Workers concurrent submitters.
func submitAll(ctx context.Context, client *Client, cfg *Config, plans []plan, log logger.Logger) []outcome {
	results := make([]outcome, len(plans))
	var (
		done    atomic.Int64
		failed  atomic.Int64
		next    = make(chan int, cfg.Workers*2)
		wg      sync.WaitGroup
		started = time.Now()
	)

	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = submitOne(ctx, client, plans[i])
				done.Add(1)
				if !results[i].recorded {
					failed.Add(1)
				}
				if cfg.Verbose {
					log.Debug(ctx, "submission",
						logger.String("submission_id", plans[i].req.SubmissionID),
						logger.Int64("match_id", results[i].match.ID),
						logger.Bool("recorded", results[i].recorded),
					)
				}
			}
		}()
	}

	go func() {
		defer close(next)
		for i := range plans {
			select {
			case <-ctx.Done():
				return
			case next <- i:
			}
		}
	}()
	wg.Wait()

	log.Info(ctx, "match submission completed",
		logger.Int64("submitted", done.Load()),
		logger.Int64("failed", failed.Load()),
		logger.Duration("elapsed", time.Since(started)),
	)
	return results
}

func submitOne(ctx context.Context, client *Client, p plan) outcome {
	m, status, err := client.Submit(ctx, p.req)
	if err != nil || status != http.StatusCreated {
		return outcome{}
	}
	res := outcome{match: m, recorded: true}
	if p.replay {
		res.replayed = true
		again, status, err := client.Submit(ctx, p.req)
		res.matched = err == nil && status == http.StatusOK && again.Duplicate && again.ID == m.ID
	}
	return res
}

// fetchPlayers reads the current state of every simulated player.
func fetchPlayers(ctx context.Context, client *Client, players []simPlayer) (map[int64]types.Player, error) {
	out := make(map[int64]types.Player, len(players))
	for _, p := range players {
		cur, err := client.Player(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out[p.ID] = cur
	}
	return out, nil
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var matchesPerSecond float64
	if stats.Duration > 0 {
		matchesPerSecond = float64(stats.MatchesRecorded) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("playersRegistered", stats.PlayersRegistered),
		logger.Int("matchesPlanned", stats.MatchesPlanned),
		logger.Int("matchesRecorded", stats.MatchesRecorded),
		logger.Int("submitFailed", stats.SubmitFailed),
		logger.Int("replays", stats.Replays),
		logger.Int("ledgerEntries", stats.LedgerEntries),
		logger.Float64("skillAgreementPct", stats.Agreement*PercentageMultiplier),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("matchesPerSecond", matchesPerSecond),
	)
}
