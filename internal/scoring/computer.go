// Package scoring implements the behavioral score computer.
//
// Scores are deterministic additive heuristics over a contact's interaction
// history and extracted variables, not a learned model. Each run overwrites
// the contact's five score fields and appends one score event per score type
// with the contributing factors, so every number on a contact can be
// explained after the fact.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loopcrm/engine/internal/contactlock"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// recentWindow is how far back an interaction counts as "recent" for intent.
const recentWindow = 7 * 24 * time.Hour

// interactionFetchLimit bounds how much history one computation reads.
const interactionFetchLimit = 200

var urgencyKeywords = []string{"asap", "urgent", "immediately", "this week", "this month"}

var userTypeMultipliers = map[string]float64{
	"enterprise": 2.0,
	"investor":   1.5,
	"founder":    1.2,
	"developer":  0.8,
}

var industryMultipliers = map[string]float64{
	"real_estate": 1.5,
	"fintech":     1.4,
	"healthcare":  1.3,
	"saas":        1.2,
	"ecommerce":   1.1,
}

// Computer computes and persists behavioral scores.
type Computer struct {
	store      store.Store
	locks      *contactlock.Keyed
	batchLimit int
	workers    int
}

// NewComputer creates a score computer. batchLimit caps a compute-all pass;
// workers bounds its parallelism. locks serializes batch workers against
// other writers of the same contact; Compute itself does not lock, its
// callers already hold the contact lock.
func NewComputer(s store.Store, locks *contactlock.Keyed, batchLimit, workers int) *Computer {
	if locks == nil {
		locks = contactlock.New()
	}
	if batchLimit <= 0 {
		batchLimit = 1000
	}
	if workers <= 0 {
		workers = 8
	}
	return &Computer{store: s, locks: locks, batchLimit: batchLimit, workers: workers}
}

// BatchResult aggregates a compute-all pass. Individual failures land in
// Errors and never abort sibling contacts.
type BatchResult struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// Compute recomputes all five scores for one contact, persists them on the
// contact record, and writes one audit event per score type. Returns
// store.ErrNotFound if the contact does not exist.
func (c *Computer) Compute(ctx context.Context, contactID string) (*models.ScoreSet, error) {
	contact, err := c.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}

	interactions, err := c.store.ListInteractions(ctx, contactID, interactionFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("loading interactions: %w", err)
	}
	variables, err := c.store.ListCurrentVariables(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}

	vars := make(map[string]string, len(variables))
	for _, v := range variables {
		vars[strings.ToLower(v.Name)] = v.Value
	}

	now := time.Now().UTC()
	intent, intentFactors := computeIntent(interactions, vars, now)
	urgency, urgencyFactors := computeUrgency(interactions, vars)
	engagement, engagementFactors := computeEngagement(interactions, now)
	churn, churnFactors := computeChurnRisk(interactions, now)
	ltv, ltvFactors := computeLTV(contact, vars)

	events := []models.ScoreEvent{
		{ScoreType: "intent", OldValue: float64(contact.IntentScore), NewValue: float64(intent), Factors: intentFactors},
		{ScoreType: "urgency", OldValue: float64(contact.UrgencyScore), NewValue: float64(urgency), Factors: urgencyFactors},
		{ScoreType: "engagement", OldValue: float64(contact.EngagementScore), NewValue: float64(engagement), Factors: engagementFactors},
		{ScoreType: "churn_risk", OldValue: float64(contact.ChurnRisk), NewValue: float64(churn), Factors: churnFactors},
		{ScoreType: "ltv", OldValue: contact.LifetimeValue, NewValue: ltv, Factors: ltvFactors},
	}

	contact.IntentScore = intent
	contact.UrgencyScore = urgency
	contact.EngagementScore = engagement
	contact.ChurnRisk = churn
	contact.LifetimeValue = ltv

	if err := c.store.UpdateContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("saving scores: %w", err)
	}
	for _, ev := range events {
		ev.ID = uuid.New().String()
		ev.ContactID = contactID
		ev.Source = models.ScoreSourceComputed
		ev.CreatedAt = now
		if err := c.store.CreateScoreEvent(ctx, &ev); err != nil {
			log.Error().Err(err).Str("contact_id", contactID).Str("score_type", ev.ScoreType).Msg("Failed to persist score event")
		}
	}

	log.Debug().
		Str("contact_id", contactID).
		Int("intent", intent).
		Int("urgency", urgency).
		Int("engagement", engagement).
		Int("churn_risk", churn).
		Float64("ltv", ltv).
		Msg("Scores computed")

	return &models.ScoreSet{
		Intent:     intent,
		Urgency:    urgency,
		Engagement: engagement,
		ChurnRisk:  churn,
		LTV:        ltv,
	}, nil
}

// ComputeAll recomputes scores for every contact up to the batch limit.
// Per-contact failures are collected, not fatal.
func (c *Computer) ComputeAll(ctx context.Context) (*BatchResult, error) {
	contacts, err := c.store.ListContacts(ctx, c.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}

	result := &BatchResult{Errors: []string{}}
	errCh := make(chan string, len(contacts))
	okCh := make(chan struct{}, len(contacts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, contact := range contacts {
		id := contact.ID
		g.Go(func() error {
			c.locks.Lock(id)
			_, err := c.Compute(gCtx, id)
			c.locks.Unlock(id)
			if err != nil {
				errCh <- fmt.Sprintf("contact %s: %v", id, err)
				return nil
			}
			okCh <- struct{}{}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(errCh)
	close(okCh)

	for range okCh {
		result.Processed++
	}
	for msg := range errCh {
		result.Errors = append(result.Errors, msg)
	}

	log.Info().
		Int("processed", result.Processed).
		Int("errors", len(result.Errors)).
		Msg("Batch score computation finished")
	return result, nil
}

// ── Score formulas ───────────────────────────────────────────

func computeIntent(interactions []models.Interaction, vars map[string]string, now time.Time) (int, []string) {
	score := 30
	factors := []string{"base 30"}

	recent := 0
	positive := 0
	purchaseSignals := 0
	for _, in := range interactions {
		if now.Sub(in.OccurredAt) <= recentWindow {
			recent++
		}
		if in.Sentiment == "positive" {
			positive++
		}
		for _, intent := range in.Intents {
			if normalizeTag(intent) == "purchase_intent" {
				purchaseSignals++
			}
		}
	}

	if recent > 0 {
		pts := min(recent*10, 30)
		score += pts
		factors = append(factors, fmt.Sprintf("%d recent interactions (+%d)", recent, pts))
	}
	if positive > 0 {
		pts := min(positive*5, 15)
		score += pts
		factors = append(factors, fmt.Sprintf("%d positive interactions (+%d)", positive, pts))
	}
	if purchaseSignals > 0 {
		pts := purchaseSignals * 10
		score += pts
		factors = append(factors, fmt.Sprintf("%d purchase intent signals (+%d)", purchaseSignals, pts))
	}
	if _, ok := budgetVariable(vars); ok {
		score += 15
		factors = append(factors, "budget variable present (+15)")
	}
	if _, ok := vars["timeline"]; ok {
		score += 10
		factors = append(factors, "timeline variable present (+10)")
	}

	return clamp(score), factors
}

func computeUrgency(interactions []models.Interaction, vars map[string]string) (int, []string) {
	score := 20
	factors := []string{"base 20"}

	if n := len(interactions); n > 0 {
		pts := min(n*5, 25)
		score += pts
		factors = append(factors, fmt.Sprintf("%d interactions (+%d)", n, pts))
	}

	channels := distinctChannels(interactions)
	if channels > 1 {
		pts := (channels - 1) * 10
		score += pts
		factors = append(factors, fmt.Sprintf("%d channels used (+%d)", channels, pts))
	}

	if len(interactions) > 0 {
		inbound := 0
		for _, in := range interactions {
			if in.Direction == models.DirectionInbound {
				inbound++
			}
		}
		ratio := float64(inbound) / float64(len(interactions))
		pts := int(20 * ratio)
		if pts > 0 {
			score += pts
			factors = append(factors, fmt.Sprintf("inbound ratio %.2f (+%d)", ratio, pts))
		}
	}

	if timeline, ok := vars["timeline"]; ok {
		lower := strings.ToLower(timeline)
		for _, kw := range urgencyKeywords {
			if strings.Contains(lower, kw) {
				score += 20
				factors = append(factors, fmt.Sprintf("urgent timeline %q (+20)", kw))
				break
			}
		}
	}

	return clamp(score), factors
}

func computeEngagement(interactions []models.Interaction, now time.Time) (int, []string) {
	score := 0
	var factors []string

	if n := len(interactions); n > 0 {
		pts := min(n*8, 40)
		score += pts
		factors = append(factors, fmt.Sprintf("%d interactions (+%d)", n, pts))
	}

	if len(interactions) > 0 {
		// ListInteractions returns newest-first.
		days := now.Sub(interactions[0].OccurredAt).Hours() / 24
		pts := recencyBonus(days)
		if pts > 0 {
			score += pts
			factors = append(factors, fmt.Sprintf("last interaction %.0f days ago (+%d)", days, pts))
		}
	}

	inbound, outbound := 0, 0
	for _, in := range interactions {
		if in.Direction == models.DirectionInbound {
			inbound++
		} else {
			outbound++
		}
	}
	if outbound > 0 {
		rate := float64(inbound) / float64(outbound)
		if rate > 1 {
			rate = 1
		}
		pts := int(20 * rate)
		if pts > 0 {
			score += pts
			factors = append(factors, fmt.Sprintf("response rate %.2f (+%d)", rate, pts))
		}
	}

	channels := distinctChannels(interactions)
	if channels > 1 {
		pts := (channels - 1) * 5
		score += pts
		factors = append(factors, fmt.Sprintf("%d channels used (+%d)", channels, pts))
	}

	return clamp(score), factors
}

func computeChurnRisk(interactions []models.Interaction, now time.Time) (int, []string) {
	score := 20
	factors := []string{"base 20"}

	days := 1e9 // no interactions ever: maximally stale
	if len(interactions) > 0 {
		days = now.Sub(interactions[0].OccurredAt).Hours() / 24
	}
	pts := stalenessPenalty(days)
	score += pts
	if len(interactions) > 0 {
		factors = append(factors, fmt.Sprintf("last interaction %.0f days ago (%+d)", days, pts))
	} else {
		factors = append(factors, fmt.Sprintf("no interactions on record (%+d)", pts))
	}

	negative := 0
	for i, in := range interactions {
		if i >= 5 {
			break
		}
		if in.Sentiment == "negative" {
			negative++
		}
	}
	if negative > 0 {
		score += negative * 15
		factors = append(factors, fmt.Sprintf("%d recent negative interactions (+%d)", negative, negative*15))
	}

	complaints := 0
	for _, in := range interactions {
		for _, intent := range in.Intents {
			if normalizeTag(intent) == "complaint" {
				complaints++
			}
		}
	}
	if complaints > 0 {
		score += complaints * 10
		factors = append(factors, fmt.Sprintf("%d complaints (+%d)", complaints, complaints*10))
	}

	if len(interactions) < 3 {
		score += 15
		factors = append(factors, "fewer than 3 total interactions (+15)")
	}

	return clamp(score), factors
}

func computeLTV(contact *models.Contact, vars map[string]string) (float64, []string) {
	budget, ok := budgetVariable(vars)
	if !ok {
		return 0, []string{"no budget variable"}
	}

	base := parseAmount(budget)
	if base == 0 {
		return 0, []string{fmt.Sprintf("budget %q has no numeric value", budget)}
	}

	userMult := 1.0
	if m, ok := userTypeMultipliers[normalizeTag(contact.UserType)]; ok {
		userMult = m
	}
	indMult := 1.0
	if m, ok := industryMultipliers[normalizeTag(contact.Industry)]; ok {
		indMult = m
	}

	ltv := base * userMult * indMult
	factors := []string{
		fmt.Sprintf("budget %.0f", base),
		fmt.Sprintf("user type %q ×%.1f", contact.UserType, userMult),
		fmt.Sprintf("industry %q ×%.1f", contact.Industry, indMult),
	}
	return ltv, factors
}

// ── Helpers ──────────────────────────────────────────────────

func budgetVariable(vars map[string]string) (string, bool) {
	if v, ok := vars["budget"]; ok {
		return v, true
	}
	if v, ok := vars["investment_range"]; ok {
		return v, true
	}
	return "", false
}

// parseAmount extracts the first contiguous digit run from a budget string,
// ignoring thousands separators ("$1,200,000" → 1200000).
func parseAmount(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return digitsToFloat(s[start:i])
		}
	}
	if start >= 0 {
		return digitsToFloat(s[start:])
	}
	return 0
}

func digitsToFloat(digits string) float64 {
	var n float64
	for _, r := range digits {
		n = n*10 + float64(r-'0')
	}
	return n
}

func recencyBonus(days float64) int {
	switch {
	case days < 1:
		return 30
	case days < 7:
		return 20
	case days < 30:
		return 10
	case days < 90:
		return 5
	default:
		return 0
	}
}

func stalenessPenalty(days float64) int {
	switch {
	case days > 90:
		return 50
	case days > 60:
		return 35
	case days > 30:
		return 20
	case days > 14:
		return 10
	default:
		return -10
	}
}

func distinctChannels(interactions []models.Interaction) int {
	seen := make(map[string]struct{})
	for _, in := range interactions {
		seen[in.Channel] = struct{}{}
	}
	return len(seen)
}

func normalizeTag(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
