// Package engine orchestrates the context router pipeline: publish
// (parse, embed, index, append, fan out), agent registration with
// initial context and event catch-up, and ad-hoc queries.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/internal/budget"
	"github.com/contex-io/contex/internal/dispatch"
	"github.com/contex-io/contex/internal/format"
	"github.com/contex-io/contex/internal/matcher"
	"github.com/contex-io/contex/internal/node"
	"github.com/contex-io/contex/internal/registry"
	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// MaxContextSize caps initial-context and query results in estimated
	// tokens. 0 disables the budget.
	MaxContextSize int
	// CatchUpLimit bounds how many missed events a registration replays.
	CatchUpLimit int
	// PublishDeadline bounds one publish call end to end.
	PublishDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.CatchUpLimit <= 0 {
		c.CatchUpLimit = 100
	}
	if c.PublishDeadline <= 0 {
		c.PublishDeadline = 30 * time.Second
	}
	return c
}

// Encoder is the embedding surface the engine needs.
type Encoder interface {
	MaxBatchSize() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine wires the pipeline stages together behind the public operations.
type Engine struct {
	chain      *node.Chain
	encoder    Encoder
	vectors    contracts.VectorIndex
	lexical    contracts.LexicalIndex
	events     contracts.EventLog
	registry   *registry.Registry
	matcher    *matcher.Matcher
	dispatcher *dispatch.Dispatcher
	cfg        Config
}

// New assembles an engine. lexical may be nil when hybrid search is off.
func New(
	chain *node.Chain,
	encoder Encoder,
	vectors contracts.VectorIndex,
	lexical contracts.LexicalIndex,
	events contracts.EventLog,
	reg *registry.Registry,
	m *matcher.Matcher,
	d *dispatch.Dispatcher,
	cfg Config,
) *Engine {
	return &Engine{
		chain:      chain,
		encoder:    encoder,
		vectors:    vectors,
		lexical:    lexical,
		events:     events,
		registry:   reg,
		matcher:    m,
		dispatcher: d,
		cfg:        cfg.withDefaults(),
	}
}

// Registry exposes the subscription registry for introspection handlers.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// EventLog exposes the event log for read-only handlers.
func (e *Engine) EventLog() contracts.EventLog { return e.events }

// VectorIndex exposes the vector index for read-only handlers.
func (e *Engine) VectorIndex() contracts.VectorIndex { return e.vectors }

// BreakerStates reports webhook circuit breaker states per URL.
func (e *Engine) BreakerStates() map[string]dispatch.BreakerState {
	return e.dispatcher.BreakerStates()
}

// ── Publish ─────────────────────────────────────────────────

// PublishData runs the ingest pipeline for one payload: parse into
// nodes, embed, atomically replace the data key's records in the vector
// index, append the event, and fan updates out to affected agents.
//
// The response is returned only after the new nodes are queryable; an
// agent registering right after a successful publish always sees the
// published data.
func (e *Engine) PublishData(ctx context.Context, req *models.PublishRequest) (*models.PublishResponse, error) {
	if req.ProjectID == "" || req.DataKey == "" {
		return nil, fmt.Errorf("%w: project_id and data_key are required", models.ErrValidation)
	}
	if req.Data == nil {
		return nil, fmt.Errorf("%w: data is required", models.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.PublishDeadline)
	defer cancel()

	parsed, err := e.chain.Parse(req.Data, req.DataFormat)
	if err != nil {
		return nil, fmt.Errorf("parse %s/%s: %w", req.ProjectID, req.DataKey, err)
	}

	records, err := e.buildRecords(ctx, req, parsed)
	if err != nil {
		return nil, err
	}
	if err := e.vectors.Upsert(ctx, req.ProjectID, req.DataKey, records); err != nil {
		return nil, fmt.Errorf("index %s/%s: %w", req.ProjectID, req.DataKey, err)
	}
	e.indexLexical(ctx, req.ProjectID, req.DataKey, records)

	eventType := req.EventType
	if eventType == "" {
		eventType = req.DataKey + "_updated"
	}
	seq, err := e.events.Append(ctx, req.ProjectID, eventType, map[string]any{
		"data_key":    req.DataKey,
		"data":        req.Data,
		"data_format": parsed.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	log.Info().
		Str("project", req.ProjectID).
		Str("data_key", req.DataKey).
		Str("format", parsed.Format).
		Int("nodes", len(records)).
		Int64("sequence", seq).
		Msg("Data published")

	e.notifyAffected(ctx, req, eventType, seq)

	return &models.PublishResponse{
		Status:    "published",
		ProjectID: req.ProjectID,
		DataKey:   req.DataKey,
		Sequence:  seq,
	}, nil
}

// buildRecords embeds every node's projection and assembles index rows.
func (e *Engine) buildRecords(ctx context.Context, req *models.PublishRequest, parsed *node.Result) ([]models.NodeRecord, error) {
	texts := make([]string, len(parsed.Nodes))
	for i, n := range parsed.Nodes {
		texts[i] = n.EmbeddingText()
	}
	vectors, err := e.encodeBatched(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s/%s: %w", req.ProjectID, req.DataKey, err)
	}

	records := make([]models.NodeRecord, len(parsed.Nodes))
	for i, n := range parsed.Nodes {
		records[i] = models.NodeRecord{
			Project:     req.ProjectID,
			DataKey:     req.DataKey,
			NodeKey:     n.Key(req.DataKey),
			NodePath:    n.Path,
			NodeType:    string(n.NodeType),
			Description: texts[i],
			Content:     n.Content,
			DataFormat:  parsed.Format,
			Vector:      vectors[i],
		}
	}
	// The root node keeps the original payload so subscribers can be
	// handed back exactly what was published.
	if len(records) == 1 || parsed.Nodes[0].Path == "" {
		records[0].OriginalPayload = req.Data
	}
	return records, nil
}

// encodeBatched splits texts into driver-sized batches.
func (e *Engine) encodeBatched(ctx context.Context, texts []string) ([][]float32, error) {
	max := e.encoder.MaxBatchSize()
	if max <= 0 || len(texts) <= max {
		return e.encoder.Encode(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += max {
		end := start + max
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.encoder.Encode(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// indexLexical mirrors the records into the BM25 index. Best effort:
// lexical failures degrade hybrid search but never fail a publish.
func (e *Engine) indexLexical(ctx context.Context, project, dataKey string, records []models.NodeRecord) {
	if e.lexical == nil {
		return
	}
	if err := e.lexical.RemovePrefix(ctx, project, dataKey); err != nil {
		log.Warn().Str("project", project).Str("data_key", dataKey).Err(err).Msg("Lexical prefix removal failed")
		return
	}
	for _, rec := range records {
		if err := e.lexical.Index(ctx, project, rec.NodeKey, rec.Description); err != nil {
			log.Warn().Str("node_key", rec.NodeKey).Err(err).Msg("Lexical indexing failed")
			return
		}
	}
}

// notifyAffected fans a data_update envelope out to every subscription
// whose matched data keys include the published key. Delivery failures
// never fail the publish; an agent's cursor only advances when its
// delivery was accepted.
func (e *Engine) notifyAffected(ctx context.Context, req *models.PublishRequest, eventType string, seq int64) {
	subs := e.registry.AffectedBy(req.ProjectID, req.DataKey)
	for _, sub := range subs {
		envelope := models.DataUpdate{
			Type:     models.EnvelopeDataUpdate,
			Sequence: seq,
			DataKey:  req.DataKey,
			Format:   sub.Format,
			Data:     req.Data,
		}
		body, err := format.Serialize(envelope, sub.Format)
		if err != nil {
			log.Error().Str("agent", sub.AgentID).Err(err).Msg("Envelope serialization failed")
			continue
		}
		if err := e.dispatcher.Deliver(ctx, sub, models.EnvelopeDataUpdate, body); err != nil {
			log.Warn().Str("agent", sub.AgentID).Int64("sequence", seq).Err(err).Msg("Update delivery rejected")
			continue
		}
		e.registry.UpdateLastSequence(sub.AgentID, seq)
	}
	if len(subs) > 0 {
		log.Debug().Str("data_key", req.DataKey).Int("agents", len(subs)).Int64("sequence", seq).Msg("Update fan-out complete")
	}
}

// ── Registration ────────────────────────────────────────────

// RegisterAgent matches the agent's needs against the project, stores
// the subscription, delivers the initial context, and replays events
// missed since last_seen_sequence.
func (e *Engine) RegisterAgent(ctx context.Context, reg *models.AgentRegistration) (*models.RegistrationResponse, error) {
	sub, err := e.subscriptionFrom(reg)
	if err != nil {
		return nil, err
	}

	matches, err := e.matcher.Match(ctx, sub.Project, sub.Needs)
	if err != nil {
		return nil, fmt.Errorf("match needs for %s: %w", sub.AgentID, err)
	}
	if e.cfg.MaxContextSize > 0 {
		matches = budget.Truncate(sub.Needs, matches, e.cfg.MaxContextSize)
	}
	for _, list := range matches {
		for _, m := range list {
			sub.MatchedDataKeys[m.DataKey] = struct{}{}
		}
	}

	latest, err := e.events.Latest(ctx, sub.Project)
	if err != nil {
		return nil, fmt.Errorf("read latest sequence: %w", err)
	}

	e.registry.Put(sub)
	e.deliverInitialContext(ctx, sub, matches)
	caughtUp := e.replayMissed(ctx, sub, reg.LastSeenSequence)
	e.registry.UpdateLastSequence(sub.AgentID, latest)

	matchedNeeds := make(map[string]int, len(sub.Needs))
	for _, need := range sub.Needs {
		matchedNeeds[need] = len(matches[need])
	}

	log.Info().
		Str("agent", sub.AgentID).
		Str("project", sub.Project).
		Int("caught_up", caughtUp).
		Int64("current_sequence", latest).
		Msg("Agent registered")

	return &models.RegistrationResponse{
		Status:              "registered",
		AgentID:             sub.AgentID,
		ProjectID:           sub.Project,
		CaughtUpEvents:      caughtUp,
		CurrentSequence:     latest,
		MatchedNeeds:        matchedNeeds,
		NotificationChannel: sub.Delivery.Channel,
	}, nil
}

// subscriptionFrom validates a registration and shapes the subscription.
func (e *Engine) subscriptionFrom(reg *models.AgentRegistration) (*models.Subscription, error) {
	if reg.AgentID == "" || reg.ProjectID == "" {
		return nil, fmt.Errorf("%w: agent_id and project_id are required", models.ErrValidation)
	}
	if len(reg.DataNeeds) == 0 {
		return nil, fmt.Errorf("%w: data_needs must not be empty", models.ErrValidation)
	}

	f := reg.ResponseFormat
	if f == "" {
		f = models.DefaultFormat
	}
	if !models.ValidFormat(f) {
		return nil, fmt.Errorf("%w: unsupported response_format %q", models.ErrValidation, f)
	}

	var delivery models.Delivery
	switch reg.NotificationMethod {
	case "webhook":
		if reg.WebhookURL == "" {
			return nil, fmt.Errorf("%w: webhook notification requires webhook_url", models.ErrValidation)
		}
		delivery = models.Delivery{
			Mode:   models.DeliveryWebhook,
			URL:    reg.WebhookURL,
			Secret: reg.WebhookSecret,
		}
	case "", "redis":
		channel := reg.NotificationChannel
		if channel == "" {
			channel = fmt.Sprintf("agent:%s:updates", reg.AgentID)
		}
		delivery = models.Delivery{Mode: models.DeliveryPubSub, Channel: channel}
	default:
		return nil, fmt.Errorf("%w: unknown notification_method %q", models.ErrValidation, reg.NotificationMethod)
	}

	return &models.Subscription{
		AgentID:         reg.AgentID,
		Project:         reg.ProjectID,
		Needs:           reg.DataNeeds,
		Delivery:        delivery,
		Format:          f,
		MatchedDataKeys: map[string]struct{}{},
		LastSequence:    reg.LastSeenSequence,
	}, nil
}

func (e *Engine) deliverInitialContext(ctx context.Context, sub *models.Subscription, matches models.MatchSet) {
	envelope := models.InitialContext{
		Type:    models.EnvelopeInitialContext,
		AgentID: sub.AgentID,
		Format:  sub.Format,
		Context: matches,
	}
	body, err := format.Serialize(envelope, sub.Format)
	if err != nil {
		log.Error().Str("agent", sub.AgentID).Err(err).Msg("Initial context serialization failed")
		return
	}
	if err := e.dispatcher.Deliver(ctx, sub, models.EnvelopeInitialContext, body); err != nil {
		log.Warn().Str("agent", sub.AgentID).Err(err).Msg("Initial context delivery rejected")
	}
}

// replayMissed pushes events with sequence > since to the new
// subscription, oldest first, capped at the catch-up limit.
func (e *Engine) replayMissed(ctx context.Context, sub *models.Subscription, since int64) int {
	events, err := e.events.Range(ctx, sub.Project, since, e.cfg.CatchUpLimit)
	if err != nil {
		log.Warn().Str("agent", sub.AgentID).Err(err).Msg("Event catch-up read failed")
		return 0
	}

	delivered := 0
	for _, ev := range events {
		envelope := models.EventEnvelope{
			Type:      models.EnvelopeEvent,
			Sequence:  ev.Sequence,
			EventType: ev.Type,
			Data:      ev.Payload,
		}
		body, err := format.Serialize(envelope, sub.Format)
		if err != nil {
			log.Error().Str("agent", sub.AgentID).Int64("sequence", ev.Sequence).Err(err).Msg("Replay serialization failed")
			continue
		}
		if err := e.dispatcher.Deliver(ctx, sub, models.EnvelopeEvent, body); err != nil {
			log.Warn().Str("agent", sub.AgentID).Int64("sequence", ev.Sequence).Err(err).Msg("Replay delivery rejected")
			break
		}
		delivered++
	}
	return delivered
}

// UnregisterAgent removes the agent's subscription.
func (e *Engine) UnregisterAgent(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent_id is required", models.ErrValidation)
	}
	if !e.registry.Remove(agentID) {
		return fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	return nil
}

// ── Queries ─────────────────────────────────────────────────

// Query runs a one-shot match with no subscription side effects.
func (e *Engine) Query(ctx context.Context, project string, req *models.QueryRequest) (*models.QueryResponse, error) {
	if project == "" {
		return nil, fmt.Errorf("%w: project id is required", models.ErrValidation)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", models.ErrValidation)
	}

	threshold := e.matcher.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	matches, err := e.matcher.MatchNeed(ctx, project, req.Query, req.TopK, threshold)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", project, err)
	}

	if req.MaxTokens > 0 {
		trimmed := budget.Truncate([]string{req.Query}, models.MatchSet{req.Query: matches}, req.MaxTokens)
		matches = trimmed[req.Query]
	}

	resp := &models.QueryResponse{
		ProjectID: project,
		Query:     req.Query,
		Matches:   matches,
	}
	if req.ResponseFormat != "" {
		body, err := format.Serialize(matchContents(matches), req.ResponseFormat)
		if err != nil {
			return nil, err
		}
		resp.Context = string(body)
	}
	return resp, nil
}

// matchContents projects matches into node_key → content for rendering.
func matchContents(matches []models.Match) map[string]any {
	out := make(map[string]any, len(matches))
	for _, m := range matches {
		out[m.NodeKey] = m.Content
	}
	return out
}
