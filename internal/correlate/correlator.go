// Package correlate deduplicates watchlist hits into incidents. Repeated
// hits on the same (subject, gate) inside the cooldown window merge into the
// open incident; outside it a fresh incident opens even when an older one is
// still unresolved. Per-key locks keep concurrent hits on the same subject
// from racing into duplicate incidents without serializing unrelated gates.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/metrics"
	"gatewarden/internal/store"
	"gatewarden/pkg/sentinel"
)

const shardCount = 32

// Hit is one above-threshold watchlist match tied to its entry log.
type Hit struct {
	Match      domain.WatchlistMatch
	GateID     string
	EntryLogID uuid.UUID
	ObservedAt time.Time
}

// Correlator owns incident creation and cooldown merging.
type Correlator struct {
	incidents store.IncidentStore
	cooldown  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics

	shards [shardCount]sync.Mutex

	seqMu sync.Mutex
	seq   map[int]int64 // incident sequence per year, lazily seeded
}

// New wires a correlator with the configured cooldown window.
func New(incidents store.IncidentStore, cooldown time.Duration, logger *slog.Logger, m *metrics.Metrics) *Correlator {
	return &Correlator{
		incidents: incidents,
		cooldown:  cooldown,
		logger:    logger,
		metrics:   m,
		seq:       make(map[int]int64),
	}
}

// Process correlates one hit, returning the incident it landed in and
// whether that incident was newly created.
func (c *Correlator) Process(ctx context.Context, hit Hit) (*domain.Incident, bool, error) {
	shard := &c.shards[shardIndex(hit.Match.EntryID, hit.GateID)]
	shard.Lock()
	defer shard.Unlock()

	open, err := c.incidents.GetOpenIncident(ctx, hit.Match.EntryID, hit.GateID)
	switch {
	case err == nil:
		if hit.ObservedAt.Sub(open.LastHitAt) <= c.cooldown {
			return c.merge(ctx, open, hit)
		}
	case errors.Is(err, sentinel.ErrNotFound):
		// No open incident, fall through to create.
	default:
		return nil, false, fmt.Errorf("lookup open incident: %w", err)
	}

	return c.create(ctx, hit)
}

func (c *Correlator) merge(ctx context.Context, incident *domain.Incident, hit Hit) (*domain.Incident, bool, error) {
	incident.LastHitAt = hit.ObservedAt
	incident.EntryLogIDs = append(incident.EntryLogIDs, hit.EntryLogID)
	if hit.Match.Score > incident.TopScore {
		incident.TopScore = hit.Match.Score
	}
	if hit.Match.Severity.Rank() > incident.Severity.Rank() {
		incident.Severity = hit.Match.Severity
		incident.PriorityScore = priority(hit.Match.Severity, incident.TopScore)
	}
	incident.Timeline = append(incident.Timeline, domain.TimelineEntry{
		At:          hit.ObservedAt,
		Kind:        "hit_merged",
		Description: fmt.Sprintf("repeat hit at gate %s, score %.2f", hit.GateID, hit.Match.Score),
	})

	if err := c.incidents.UpsertIncident(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("merge incident %s: %w", incident.Number, err)
	}
	if c.metrics != nil {
		c.metrics.IncidentsMerged.Inc()
	}
	c.logger.InfoContext(ctx, "watchlist hit merged",
		"incident", incident.Number, "gate_id", hit.GateID, "hits", len(incident.EntryLogIDs))
	return incident, false, nil
}

func (c *Correlator) create(ctx context.Context, hit Hit) (*domain.Incident, bool, error) {
	number, err := c.nextNumber(ctx, hit.ObservedAt.Year())
	if err != nil {
		return nil, false, err
	}

	incident := &domain.Incident{
		ID:            uuid.New(),
		Number:        number,
		SubjectID:     hit.Match.EntryID,
		SubjectName:   hit.Match.SubjectName,
		GateID:        hit.GateID,
		Severity:      hit.Match.Severity,
		PriorityScore: priority(hit.Match.Severity, hit.Match.Score),
		Status:        domain.IncidentOpen,
		FirstHitAt:    hit.ObservedAt,
		LastHitAt:     hit.ObservedAt,
		TopScore:      hit.Match.Score,
		EntryLogIDs:   []uuid.UUID{hit.EntryLogID},
		Timeline: []domain.TimelineEntry{{
			At:          hit.ObservedAt,
			Kind:        "created",
			Description: fmt.Sprintf("watchlist hit at gate %s, score %.2f", hit.GateID, hit.Match.Score),
		}},
	}

	if err := c.incidents.UpsertIncident(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("create incident %s: %w", incident.Number, err)
	}
	if c.metrics != nil {
		c.metrics.IncidentsCreated.Inc()
	}
	c.logger.InfoContext(ctx, "incident opened",
		"incident", incident.Number, "subject", incident.SubjectName,
		"gate_id", hit.GateID, "severity", incident.Severity)
	return incident, true, nil
}

// nextNumber hands out INC-<year>-<seq> numbers, seeding each year's counter
// from the store once so numbering survives restarts.
func (c *Correlator) nextNumber(ctx context.Context, year int) (string, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	if _, seeded := c.seq[year]; !seeded {
		count, err := c.incidents.CountIncidents(ctx, year)
		if err != nil {
			return "", fmt.Errorf("seed incident counter: %w", err)
		}
		c.seq[year] = count
	}
	c.seq[year]++
	return domain.IncidentNumber(year, c.seq[year]), nil
}

// priority blends severity rank with match strength so a strong hit on a
// medium subject can outrank a weak hit on a high one in the queue.
func priority(severity domain.Severity, score float64) float64 {
	return severity.PriorityScore() + score
}

func shardIndex(subjectID uuid.UUID, gateID string) int {
	h := fnv.New32a()
	h.Write(subjectID[:])
	h.Write([]byte(gateID))
	return int(h.Sum32() % shardCount)
}
