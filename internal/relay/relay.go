// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

// Package relay implements the source-group watcher: topic messages
// posted in the configured source group are turned into script and
// visual content records and enqueued for their target groups.
package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/newsrelay/internal/content"
	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/store"
	"github.com/tomtom215/newsrelay/internal/transport"
)

const topicsFile = "manual-topics.json"

// ErrEmptyTopic is returned for blank topic submissions.
var ErrEmptyTopic = errors.New("topic is empty")

// ScriptGenerator produces script text and visual suggestions for a
// topic. Real generation backends plug in here; the built-in
// TemplateGenerator produces a deterministic scaffold.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic string) (string, error)
	GenerateVisual(ctx context.Context, topic string) (content.Visual, error)
}

// Enqueuer records delivery jobs for generated content.
type Enqueuer interface {
	Enqueue(kind models.JobKind, target, contentID string) (models.DeliveryJob, error)
}

// GroupResolver resolves configured group names to directory entries.
type GroupResolver interface {
	FindGroupByName(name string) (models.DirectoryEntry, bool)
}

// Config names the groups the relay watches and feeds.
type Config struct {
	SourceGroup       string
	ScriptTargetGroup string
	VisualTargetGroup string
	// DataDir holds the pending manual topics file.
	DataDir string
}

// ManualTopic is one dashboard-submitted topic awaiting the next poll.
type ManualTopic struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Relay wires inbound source-group messages and manual topics through
// the generator into the content store and delivery queue.
type Relay struct {
	cfg        Config
	gen        ScriptGenerator
	contents   *content.Store
	queue      Enqueuer
	groups     GroupResolver
	topicsPath string

	mu     sync.Mutex
	topics []ManualTopic
}

// New creates a relay and loads any pending manual topics.
func New(cfg Config, gen ScriptGenerator, contents *content.Store, queue Enqueuer, groups GroupResolver) (*Relay, error) {
	r := &Relay{
		cfg:        cfg,
		gen:        gen,
		contents:   contents,
		queue:      queue,
		groups:     groups,
		topicsPath: filepath.Join(cfg.DataDir, topicsFile),
	}
	if err := store.Load(r.topicsPath, &r.topics); err != nil && !errors.Is(err, store.ErrNotExist) {
		return nil, fmt.Errorf("failed to load manual topics: %w", err)
	}
	return r, nil
}

// HandleMessage inspects one inbound message and, when it is a topic
// posted in the source group, runs it through the relay pipeline.
// Wired as the session manager's message hook.
func (r *Relay) HandleMessage(msg transport.Message) {
	if msg.FromSelf || strings.TrimSpace(msg.Text) == "" {
		return
	}
	src, ok := r.groups.FindGroupByName(r.cfg.SourceGroup)
	if !ok || msg.ChatAddress != src.Identifier {
		return
	}

	logging.Info().
		Str("component", "relay").
		Str("sender", msg.SenderAddress()).
		Msg("topic received in source group")

	if err := r.ProcessTopic(context.Background(), msg.Text); err != nil {
		logging.Err(err).Str("component", "relay").Msg("failed to process topic")
	}
}

// ProcessTopic generates the script and visual records for one topic
// and enqueues them for their target groups. A missing target group
// skips that enqueue but still saves the content.
func (r *Relay) ProcessTopic(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}

	script, err := r.gen.GenerateScript(ctx, topic)
	if err != nil {
		return fmt.Errorf("script generation failed: %w", err)
	}
	scriptID := r.contents.SaveScript(script, topic)
	r.enqueueFor(models.JobScript, r.cfg.ScriptTargetGroup, scriptID)

	visual, err := r.gen.GenerateVisual(ctx, topic)
	if err != nil {
		// Script delivery proceeds without the visual record.
		logging.Err(err).Str("component", "relay").Msg("visual generation failed")
		return nil
	}
	visual.OriginalMessage = topic
	visualID := r.contents.SaveVisual(visual)
	r.enqueueFor(models.JobVisual, r.cfg.VisualTargetGroup, visualID)
	return nil
}

func (r *Relay) enqueueFor(kind models.JobKind, groupName, contentID string) {
	target, ok := r.groups.FindGroupByName(groupName)
	if !ok {
		logging.Warn().
			Str("component", "relay").
			Str("group", groupName).
			Str("kind", string(kind)).
			Msg("target group not in directory, content saved but not enqueued")
		return
	}
	if _, err := r.queue.Enqueue(kind, target.Identifier, contentID); err != nil {
		logging.Err(err).Str("component", "relay").Msg("failed to enqueue generated content")
	}
}

// SubmitTopic records a dashboard-submitted topic for the next poll.
func (r *Relay) SubmitTopic(text string) (ManualTopic, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ManualTopic{}, ErrEmptyTopic
	}

	topic := ManualTopic{
		ID:          uuid.NewString(),
		Text:        text,
		SubmittedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.topics = append(r.topics, topic)
	err := store.Save(r.topicsPath, r.topics)
	r.mu.Unlock()
	if err != nil {
		return ManualTopic{}, fmt.Errorf("failed to persist manual topic: %w", err)
	}

	logging.Info().Str("component", "relay").Str("topic_id", topic.ID).Msg("manual topic submitted")
	return topic, nil
}

// PendingTopics returns the topics awaiting the next poll.
func (r *Relay) PendingTopics() []ManualTopic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ManualTopic(nil), r.topics...)
}

// PollManualTopics drains the pending topics through the relay
// pipeline. Each topic is attempted once; failures are logged and
// dropped rather than retried forever.
func (r *Relay) PollManualTopics(ctx context.Context) {
	r.mu.Lock()
	pending := r.topics
	r.topics = nil
	if err := store.Save(r.topicsPath, []ManualTopic{}); err != nil {
		logging.Err(err).Str("component", "relay").Msg("failed to persist drained topics")
	}
	r.mu.Unlock()

	for _, topic := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := r.ProcessTopic(ctx, topic.Text); err != nil {
			logging.Err(err).
				Str("component", "relay").
				Str("topic_id", topic.ID).
				Msg("manual topic dropped after failed processing")
		}
	}
}

// TemplateGenerator is the built-in ScriptGenerator: a deterministic
// news-script scaffold with no external calls.
type TemplateGenerator struct{}

// GenerateScript implements ScriptGenerator.
func (TemplateGenerator) GenerateScript(_ context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrEmptyTopic
	}

	headline := topic
	if i := strings.IndexByte(headline, '\n'); i >= 0 {
		headline = strings.TrimSpace(headline[:i])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", strings.ToUpper(headline))
	fmt.Fprintf(&b, "In today's bulletin: %s\n\n", topic)
	b.WriteString("Details are still coming in. ")
	b.WriteString("Our correspondents are following the story and updates will be shared as they are confirmed.\n\n")
	fmt.Fprintf(&b, "Filed %s.", time.Now().UTC().Format("2 January 2006"))
	return b.String(), nil
}

// GenerateVisual implements ScriptGenerator. The built-in generator
// performs no searches; the record renders as an empty suggestion set.
func (TemplateGenerator) GenerateVisual(_ context.Context, _ string) (content.Visual, error) {
	return content.Visual{}, nil
}
