// Package models defines the shared domain types for the context router:
// events, node records, subscriptions, match results, and the wire
// envelopes delivered to subscribers.
package models

import (
	"errors"
	"time"
)

// ── Error kinds ──────────────────────────────────────────────

// Sentinel error kinds. Components wrap these with %w so callers can
// classify failures with errors.Is without depending on internals.
var (
	// ErrParse means no parser in the chain could handle a payload.
	ErrParse = errors.New("parse error")
	// ErrEmbed means the embedding engine is unavailable or rejected the text.
	ErrEmbed = errors.New("embedding error")
	// ErrIndex means a vector index upsert or kNN query failed.
	ErrIndex = errors.New("index error")
	// ErrEventLog means an event log append or read failed.
	ErrEventLog = errors.New("event log error")
	// ErrValidation covers malformed requests (webhook mode without URL,
	// empty needs, missing ids).
	ErrValidation = errors.New("validation error")
	// ErrBackpressure means the dispatcher's delivery queue is full.
	ErrBackpressure = errors.New("delivery backpressure")
	// ErrCircuitOpen means delivery was suppressed by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrNotFound is returned for lookups of unknown agents or projects.
	ErrNotFound = errors.New("not found")
)

// ── Events ───────────────────────────────────────────────────

// Event is one entry in a project's append-only log. Sequence is
// strictly increasing within a project and assigned on append.
type Event struct {
	Sequence  int64          `json:"sequence"`
	Project   string         `json:"project_id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// ── Snapshots ────────────────────────────────────────────────

// Snapshot is a materialized fold of a project's event log up to a
// sequence: data_key → the latest published payload at that point.
type Snapshot struct {
	ID         string         `json:"id"`
	Project    string         `json:"project_id"`
	Sequence   int64          `json:"sequence"`
	Data       map[string]any `json:"data"`
	EventCount int            `json:"event_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ── Vector index rows ────────────────────────────────────────

// NodeRecord is one row of the vector index: a semantic node projected
// into embedding space together with enough context to hydrate a Match.
//
// NodeKey is DataKey + "." + node path (or just DataKey when the payload
// produced a single root node). (Project, NodeKey) is unique.
type NodeRecord struct {
	Project         string    `json:"project_id"`
	DataKey         string    `json:"data_key"`
	NodeKey         string    `json:"node_key"`
	NodePath        string    `json:"node_path"`
	NodeType        string    `json:"node_type"`
	Description     string    `json:"description"` // embedding text
	Content         any       `json:"content"`
	OriginalPayload any       `json:"original_payload,omitempty"`
	DataFormat      string    `json:"data_format"`
	Vector          []float32 `json:"-"`
}

// ── Matching ─────────────────────────────────────────────────

// Match is one retrieval hit for a need, hydrated from the vector index.
type Match struct {
	DataKey     string  `json:"data_key"`
	NodeKey     string  `json:"node_key"`
	Similarity  float64 `json:"similarity"`
	Content     any     `json:"content"`
	Description string  `json:"description"`
	TokenCount  int     `json:"token_count,omitempty"`
}

// MatchSet maps each need to its matches, sorted by descending score.
type MatchSet map[string][]Match

// ── Subscriptions ────────────────────────────────────────────

// DeliveryMode selects the transport updates are pushed over.
type DeliveryMode string

const (
	DeliveryPubSub  DeliveryMode = "pubsub"
	DeliveryWebhook DeliveryMode = "webhook"
)

// Delivery describes where a subscription's updates go.
type Delivery struct {
	Mode    DeliveryMode `json:"mode"`
	Channel string       `json:"channel,omitempty"` // pub/sub channel
	URL     string       `json:"url,omitempty"`     // webhook endpoint
	Secret  string       `json:"-"`                 // HMAC secret, never serialized
}

// Subscription is the in-memory state of a registered agent. It is
// ephemeral: created on register, destroyed on unregister or stale-reap.
type Subscription struct {
	AgentID         string              `json:"agent_id"`
	Project         string              `json:"project_id"`
	Needs           []string            `json:"data_needs"`
	Delivery        Delivery            `json:"delivery"`
	Format          OutputFormat        `json:"response_format"`
	MatchedDataKeys map[string]struct{} `json:"-"`
	LastSequence    int64               `json:"last_sequence"`
	LastActivity    time.Time           `json:"last_activity"`
	RegisteredAt    time.Time           `json:"registered_at"`
}

// Matched reports whether the subscription covers the given data key.
func (s *Subscription) Matched(dataKey string) bool {
	_, ok := s.MatchedDataKeys[dataKey]
	return ok
}

// ── Output formats ───────────────────────────────────────────

// OutputFormat enumerates the serializations a subscriber may request.
type OutputFormat string

const (
	FormatTOON     OutputFormat = "toon"
	FormatJSON     OutputFormat = "json"
	FormatYAML     OutputFormat = "yaml"
	FormatTOML     OutputFormat = "toml"
	FormatCSV      OutputFormat = "csv"
	FormatXML      OutputFormat = "xml"
	FormatMarkdown OutputFormat = "markdown"
	FormatText     OutputFormat = "text"
)

// DefaultFormat is used when a registration names no format. TOON is the
// token-dense default; encoders fall back to JSON when TOON cannot
// represent a value.
const DefaultFormat = FormatTOON

// ValidFormat reports whether f names a supported serialization.
func ValidFormat(f OutputFormat) bool {
	switch f {
	case FormatTOON, FormatJSON, FormatYAML, FormatTOML, FormatCSV, FormatXML, FormatMarkdown, FormatText:
		return true
	}
	return false
}

// ── API request/response shapes ──────────────────────────────

// PublishRequest is the body of POST /data/publish.
type PublishRequest struct {
	ProjectID  string `json:"project_id"`
	DataKey    string `json:"data_key"`
	Data       any    `json:"data"`
	DataFormat string `json:"data_format,omitempty"`
	EventType  string `json:"event_type,omitempty"`
}

// PublishResponse acknowledges a publish with its assigned sequence.
type PublishResponse struct {
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
	DataKey   string `json:"data_key"`
	Sequence  int64  `json:"sequence"`
}

// AgentRegistration is the body of POST /agents/register.
type AgentRegistration struct {
	AgentID             string       `json:"agent_id"`
	ProjectID           string       `json:"project_id"`
	DataNeeds           []string     `json:"data_needs"`
	LastSeenSequence    int64        `json:"last_seen_sequence,omitempty"`
	ResponseFormat      OutputFormat `json:"response_format,omitempty"`
	NotificationMethod  string       `json:"notification_method,omitempty"` // "redis" | "webhook"
	NotificationChannel string       `json:"notification_channel,omitempty"`
	WebhookURL          string       `json:"webhook_url,omitempty"`
	WebhookSecret       string       `json:"webhook_secret,omitempty"`
}

// RegistrationResponse reports the outcome of register_agent.
type RegistrationResponse struct {
	Status              string         `json:"status"`
	AgentID             string         `json:"agent_id"`
	ProjectID           string         `json:"project_id"`
	CaughtUpEvents      int            `json:"caught_up_events"`
	CurrentSequence     int64          `json:"current_sequence"`
	MatchedNeeds        map[string]int `json:"matched_needs"`
	NotificationChannel string         `json:"notification_channel"`
}

// QueryRequest is the body of POST /projects/{id}/query — a one-shot
// match with no subscription side effects.
type QueryRequest struct {
	Query          string       `json:"query"`
	TopK           int          `json:"top_k,omitempty"`
	Threshold      *float64     `json:"threshold,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat OutputFormat `json:"response_format,omitempty"`
}

// QueryResponse carries ad-hoc match results.
type QueryResponse struct {
	ProjectID string  `json:"project_id"`
	Query     string  `json:"query"`
	Matches   []Match `json:"matches"`
	Context   string  `json:"context,omitempty"`
}

// ── Subscriber envelopes ─────────────────────────────────────

// Envelope types pushed to subscribers. The Type field discriminates.
const (
	EnvelopeInitialContext = "initial_context"
	EnvelopeDataUpdate     = "data_update"
	EnvelopeEvent          = "event"
)

// InitialContext is delivered once, at registration.
type InitialContext struct {
	Type    string             `json:"type"`
	AgentID string             `json:"agent_id"`
	Format  OutputFormat       `json:"format"`
	Context map[string][]Match `json:"context"`
}

// DataUpdate is delivered on every publish touching a matched data key.
// Sequence carries the event that generated it so receivers can order
// and deduplicate.
type DataUpdate struct {
	Type     string       `json:"type"`
	Sequence int64        `json:"sequence"`
	DataKey  string       `json:"data_key"`
	Format   OutputFormat `json:"format"`
	Data     any          `json:"data"`
}

// EventEnvelope replays a missed event during registration catch-up.
type EventEnvelope struct {
	Type      string         `json:"type"`
	Sequence  int64          `json:"sequence"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}
