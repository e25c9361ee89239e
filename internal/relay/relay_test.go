// Newsrelay - Chat Session Relay with Delivery Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/newsrelay

package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/tomtom215/newsrelay/internal/content"
	"github.com/tomtom215/newsrelay/internal/logging"
	"github.com/tomtom215/newsrelay/internal/models"
	"github.com/tomtom215/newsrelay/internal/transport"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Output: io.Discard})
}

type enqueueCall struct {
	Kind      models.JobKind
	Target    string
	ContentID string
}

type stubQueue struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (q *stubQueue) Enqueue(kind models.JobKind, target, contentID string) (models.DeliveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return models.DeliveryJob{}, q.err
	}
	q.calls = append(q.calls, enqueueCall{Kind: kind, Target: target, ContentID: contentID})
	return models.DeliveryJob{ID: uint64(len(q.calls)), Status: models.JobPending}, nil
}

type stubGroups struct {
	groups map[string]models.DirectoryEntry
}

func (g stubGroups) FindGroupByName(name string) (models.DirectoryEntry, bool) {
	e, ok := g.groups[strings.ToLower(name)]
	return e, ok
}

func allGroups() stubGroups {
	return stubGroups{groups: map[string]models.DirectoryEntry{
		"content":     {Identifier: "src@conference", DisplayName: "Content", Kind: models.KindGroup},
		"demo script": {Identifier: "scripts@conference", DisplayName: "Demo script", Kind: models.KindGroup},
		"demo visual": {Identifier: "visuals@conference", DisplayName: "Demo visual", Kind: models.KindGroup},
	}}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		SourceGroup:       "Content",
		ScriptTargetGroup: "Demo script",
		VisualTargetGroup: "Demo visual",
		DataDir:           t.TempDir(),
	}
}

func newTestRelay(t *testing.T, groups GroupResolver) (*Relay, *content.Store, *stubQueue) {
	t.Helper()
	contents, err := content.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	q := &stubQueue{}
	r, err := New(testConfig(t), TemplateGenerator{}, contents, q, groups)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r, contents, q
}

func TestProcessTopicGeneratesAndEnqueues(t *testing.T) {
	r, contents, q := newTestRelay(t, allGroups())

	if err := r.ProcessTopic(context.Background(), "flood warnings issued"); err != nil {
		t.Fatalf("ProcessTopic failed: %v", err)
	}

	scripts := contents.Scripts()
	if len(scripts) != 1 {
		t.Fatalf("expected 1 script, got %d", len(scripts))
	}
	if !strings.Contains(scripts[0].Content, "FLOOD WARNINGS ISSUED") {
		t.Errorf("script missing headline: %q", scripts[0].Content)
	}
	if scripts[0].OriginalMessage != "flood warnings issued" {
		t.Errorf("original message = %q", scripts[0].OriginalMessage)
	}
	if len(contents.Visuals()) != 1 {
		t.Fatalf("expected 1 visual, got %d", len(contents.Visuals()))
	}

	if len(q.calls) != 2 {
		t.Fatalf("expected 2 enqueues, got %d: %+v", len(q.calls), q.calls)
	}
	if q.calls[0].Kind != models.JobScript || q.calls[0].Target != "scripts@conference" {
		t.Errorf("script enqueue wrong: %+v", q.calls[0])
	}
	if q.calls[1].Kind != models.JobVisual || q.calls[1].Target != "visuals@conference" {
		t.Errorf("visual enqueue wrong: %+v", q.calls[1])
	}
}

func TestProcessTopicEmptyRejected(t *testing.T) {
	r, _, _ := newTestRelay(t, allGroups())
	if err := r.ProcessTopic(context.Background(), "   "); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic, got %v", err)
	}
}

func TestMissingTargetGroupSavesContentOnly(t *testing.T) {
	groups := stubGroups{groups: map[string]models.DirectoryEntry{
		"content": {Identifier: "src@conference", Kind: models.KindGroup},
	}}
	r, contents, q := newTestRelay(t, groups)

	if err := r.ProcessTopic(context.Background(), "power outage downtown"); err != nil {
		t.Fatalf("ProcessTopic failed: %v", err)
	}
	if len(contents.Scripts()) != 1 {
		t.Error("content should be saved even without a target group")
	}
	if len(q.calls) != 0 {
		t.Errorf("nothing should be enqueued, got %+v", q.calls)
	}
}

func TestHandleMessageOnlySourceGroup(t *testing.T) {
	r, contents, _ := newTestRelay(t, allGroups())

	// Wrong chat: ignored.
	r.HandleMessage(transport.Message{ChatAddress: "other@conference", Text: "topic"})
	// Own message in the source group: ignored.
	r.HandleMessage(transport.Message{ChatAddress: "src@conference", Text: "topic", FromSelf: true})
	if got := len(contents.Scripts()); got != 0 {
		t.Fatalf("expected no scripts yet, got %d", got)
	}

	r.HandleMessage(transport.Message{
		ChatAddress: "src@conference",
		Participant: "923001112233@host",
		Text:        "bridge closure announced",
	})
	if got := len(contents.Scripts()); got != 1 {
		t.Errorf("expected 1 script from source group message, got %d", got)
	}
}

func TestManualTopicRoundTrip(t *testing.T) {
	r, contents, _ := newTestRelay(t, allGroups())

	topic, err := r.SubmitTopic("heatwave advisory")
	if err != nil {
		t.Fatalf("SubmitTopic failed: %v", err)
	}
	if topic.ID == "" {
		t.Error("submitted topic should have an id")
	}
	if got := len(r.PendingTopics()); got != 1 {
		t.Fatalf("pending topics = %d", got)
	}

	r.PollManualTopics(context.Background())

	if got := len(r.PendingTopics()); got != 0 {
		t.Errorf("topics should be drained, %d left", got)
	}
	if got := len(contents.Scripts()); got != 1 {
		t.Errorf("expected 1 script from manual topic, got %d", got)
	}
}

func TestSubmitTopicEmptyRejected(t *testing.T) {
	r, _, _ := newTestRelay(t, allGroups())
	if _, err := r.SubmitTopic("\n\t "); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic, got %v", err)
	}
}

func TestManualTopicsSurviveReload(t *testing.T) {
	cfg := testConfig(t)
	contents, err := content.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	r1, err := New(cfg, TemplateGenerator{}, contents, &stubQueue{}, allGroups())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := r1.SubmitTopic("school holiday notice"); err != nil {
		t.Fatalf("SubmitTopic failed: %v", err)
	}

	r2, err := New(cfg, TemplateGenerator{}, contents, &stubQueue{}, allGroups())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	pending := r2.PendingTopics()
	if len(pending) != 1 || pending[0].Text != "school holiday notice" {
		t.Errorf("pending after reload = %+v", pending)
	}
}

func TestTemplateGeneratorHeadlineFromFirstLine(t *testing.T) {
	script, err := TemplateGenerator{}.GenerateScript(context.Background(), "first line\nsecond line")
	if err != nil {
		t.Fatalf("GenerateScript failed: %v", err)
	}
	if !strings.HasPrefix(script, "FIRST LINE\n") {
		t.Errorf("headline should come from the first line: %q", script)
	}
}
