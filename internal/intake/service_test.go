package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/recruiter/internal/catalog"
	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/conversation"
	"github.com/ent0n29/recruiter/internal/cooldown"
	"github.com/ent0n29/recruiter/internal/session"
	"github.com/ent0n29/recruiter/internal/submission"
	"github.com/ent0n29/recruiter/internal/trello"
)

type sentMessage struct {
	chatID string
	text   string
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	block map[string]chan struct{}
}

func (r *recordingSender) Send(_ context.Context, chatID, text string) error {
	r.mu.Lock()
	gate := r.block[chatID]
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (r *recordingSender) textsFor(chatID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

func (r *recordingSender) last(chatID string) string {
	texts := r.textsFor(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []submission.Request
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, req submission.Request) submission.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return submission.Result{ID: "sub-1", CardID: "card-1", Err: f.err}
}

type harness struct {
	svc       *Service
	sender    *recordingSender
	submitter *fakeSubmitter
	registry  *session.Registry
	cooldown  *cooldown.Supervisor
	now       time.Time
}

func newHarness(t *testing.T, postings ...catalog.JobPosting) *harness {
	t.Helper()
	snapshot, err := catalog.NewSnapshot(postings)
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		sender:    &recordingSender{block: map[string]chan struct{}{}},
		submitter: &fakeSubmitter{},
		registry:  session.NewRegistry(0),
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.cooldown = cooldown.NewSupervisor(cooldown.NewInMemoryStore(), 30*time.Minute, logger)
	h.cooldown.SetClock(func() time.Time { return h.now })
	h.svc = New(Config{
		Sender:      h.sender,
		SelfID:      func() string { return "bot@c.us" },
		Machine:     conversation.NewMachine(snapshot, 3),
		Registry:    h.registry,
		Cooldown:    h.cooldown,
		Submitter:   h.submitter,
		Logger:      logger,
		IdleTimeout: 20 * time.Millisecond,
	})
	t.Cleanup(h.svc.Close)
	return h
}

var dev = catalog.JobPosting{ID: "1", Title: "Dev", Description: "Build things"}

func text(chatID, body string) chat.Event {
	return chat.Event{ChatID: chatID, Body: body, SenderName: "Ana"}
}

func withResume(chatID string) chat.Event {
	return chat.Event{
		ChatID:        chatID,
		SenderName:    "Ana",
		HasAttachment: true,
		Fetch: func(context.Context) (chat.Attachment, error) {
			return chat.Attachment{MimeType: "application/pdf", Data: []byte("%PDF")}, nil
		},
	}
}

func (h *harness) stage(chatID string) session.Stage {
	s, ok := h.registry.Get(chatID)
	if !ok {
		return 0
	}
	return s.Stage
}

func TestExampleTrace(t *testing.T) {
	h := newHarness(t, dev)
	ctx := context.Background()

	steps := []struct {
		ev    chat.Event
		reply string
		stage session.Stage
	}{
		{text("A", "oi"), conversation.ReplyWelcome, session.StageMenu},
		{text("A", "2"), conversation.ReplyAskName, session.StageAwaitName},
		{text("A", "João"), conversation.PostingList([]catalog.JobPosting{dev}), session.StageAwaitJobSelection},
		{text("A", "1"), conversation.PostingConfirmation(dev), session.StageAwaitConfirmation},
		{text("A", "sim"), conversation.ReplyAskResume, session.StageAwaitResume},
		{withResume("A"), conversation.ReplyResumeReceived, 0},
	}
	for i, step := range steps {
		h.svc.Process(ctx, step.ev)
		if got := h.sender.last("A"); got != step.reply {
			t.Fatalf("step %d reply = %q, want %q", i, got, step.reply)
		}
		if got := h.stage("A"); got != step.stage {
			t.Fatalf("step %d stage = %v, want %v", i, got, step.stage)
		}
	}
	if !strings.Contains(h.sender.textsFor("A")[2], "1. Dev") {
		t.Fatalf("posting list missing entry: %q", h.sender.textsFor("A")[2])
	}

	if len(h.submitter.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(h.submitter.requests))
	}
	req := h.submitter.requests[0]
	if req.Job != dev {
		t.Fatalf("submitted job = %+v", req.Job)
	}
	if len(req.NameCandidates) != 2 || req.NameCandidates[0] != "João" || req.NameCandidates[1] != "Ana" {
		t.Fatalf("name candidates = %v", req.NameCandidates)
	}
	if string(req.Resume.Data) != "%PDF" {
		t.Fatalf("resume data = %q", req.Resume.Data)
	}
}

func advanceToResume(t *testing.T, h *harness, chatID string) {
	t.Helper()
	for _, body := range []string{"oi", "2", "João", "1", "sim"} {
		h.svc.Process(context.Background(), text(chatID, body))
	}
	if h.stage(chatID) != session.StageAwaitResume {
		t.Fatalf("stage = %v, want AwaitResume", h.stage(chatID))
	}
}

func TestPipelineFailureStillDestroysSession(t *testing.T) {
	h := newHarness(t, dev)
	h.submitter.err = submission.ErrCreateCard
	advanceToResume(t, h, "A")

	h.svc.Process(context.Background(), withResume("A"))
	if got := h.sender.last("A"); got != conversation.ReplyResumeFailed {
		t.Fatalf("reply = %q, want failure notice", got)
	}
	if _, ok := h.registry.Get("A"); ok {
		t.Fatalf("session survived failed submission")
	}

	// The next message starts over.
	h.svc.Process(context.Background(), text("A", "oi"))
	if h.stage("A") != session.StageMenu {
		t.Fatalf("stage = %v, want Menu", h.stage("A"))
	}
}

func TestSubmissionFailureLogsRetryable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   string
	}{
		{name: "overloaded", status: 503, want: `"retryable":true`},
		{name: "unauthorized", status: 401, want: `"retryable":false`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, dev)
			var logs bytes.Buffer
			h.svc.logger = slog.New(slog.NewJSONHandler(&logs, nil))
			h.submitter.err = fmt.Errorf("%w: %w", submission.ErrCreateCard,
				&trello.StatusError{Op: "create card", StatusCode: tc.status})
			advanceToResume(t, h, "A")

			h.svc.Process(context.Background(), withResume("A"))
			if !strings.Contains(logs.String(), `"msg":"submission failed"`) {
				t.Fatalf("missing failure log: %s", logs.String())
			}
			if !strings.Contains(logs.String(), tc.want) {
				t.Fatalf("failure log lacks %s: %s", tc.want, logs.String())
			}
		})
	}
}

func TestAttachmentDownloadFailureDestroysSession(t *testing.T) {
	h := newHarness(t, dev)
	advanceToResume(t, h, "A")

	ev := withResume("A")
	ev.Fetch = func(context.Context) (chat.Attachment, error) {
		return chat.Attachment{}, errors.New("media expired")
	}
	h.svc.Process(context.Background(), ev)

	if len(h.submitter.requests) != 0 {
		t.Fatalf("pipeline should not run without attachment data")
	}
	if got := h.sender.last("A"); got != conversation.ReplyResumeFailed {
		t.Fatalf("reply = %q, want failure notice", got)
	}
	if _, ok := h.registry.Get("A"); ok {
		t.Fatalf("session survived failed download")
	}
}

func TestAwaitResumeWithoutAttachmentIsSilent(t *testing.T) {
	h := newHarness(t, dev)
	advanceToResume(t, h, "A")
	before := len(h.sender.textsFor("A"))

	h.svc.Process(context.Background(), text("A", "cadê?"))
	if got := len(h.sender.textsFor("A")); got != before {
		t.Fatalf("expected no reply, got %d new messages", got-before)
	}
	if h.stage("A") != session.StageAwaitResume {
		t.Fatalf("stage = %v, want AwaitResume", h.stage("A"))
	}
}

func TestCooldownAfterAlreadyInProcess(t *testing.T) {
	h := newHarness(t, dev)
	ctx := context.Background()

	h.svc.Process(ctx, text("A", "oi"))
	h.svc.Process(ctx, text("A", "1"))
	if got := h.sender.last("A"); got != conversation.ReplyReturning {
		t.Fatalf("reply = %q, want returning notice", got)
	}
	if _, ok := h.registry.Get("A"); ok {
		t.Fatalf("session should be destroyed")
	}
	sent := len(h.sender.textsFor("A"))

	h.now = h.now.Add(29 * time.Minute)
	h.svc.Process(ctx, text("A", "oi"))
	if len(h.sender.textsFor("A")) != sent {
		t.Fatalf("message inside cooldown was answered")
	}
	if _, ok := h.registry.Get("A"); ok {
		t.Fatalf("session created inside cooldown")
	}

	h.now = h.now.Add(2 * time.Minute)
	h.svc.Process(ctx, text("A", "oi"))
	if got := h.sender.last("A"); got != conversation.ReplyWelcome {
		t.Fatalf("reply = %q, want welcome after cooldown", got)
	}
	if h.stage("A") != session.StageMenu {
		t.Fatalf("stage = %v, want Menu", h.stage("A"))
	}
}

func TestEmptyCatalogEndsConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, body := range []string{"oi", "2", "João"} {
		h.svc.Process(ctx, text("A", body))
	}
	if got := h.sender.last("A"); got != conversation.ReplyNoPostings {
		t.Fatalf("reply = %q, want no postings", got)
	}
	if _, ok := h.registry.Get("A"); ok {
		t.Fatalf("session should be destroyed")
	}
}

func TestDispatchFiltersSelfAndGroups(t *testing.T) {
	h := newHarness(t, dev)
	ctx := context.Background()

	h.svc.Dispatch(ctx, text("bot@c.us", "oi"))
	h.svc.Dispatch(ctx, text("123-456@g.us", "oi"))
	grp := text("B", "oi")
	grp.IsGroup = true
	h.svc.Dispatch(ctx, grp)
	h.svc.Dispatch(ctx, text("", "oi"))
	h.svc.Wait()

	h.sender.mu.Lock()
	defer h.sender.mu.Unlock()
	if len(h.sender.sent) != 0 {
		t.Fatalf("filtered events produced replies: %+v", h.sender.sent)
	}
	if h.registry.Count() != 0 {
		t.Fatalf("filtered events created sessions")
	}
}

func TestDispatchKeepsPerChatOrder(t *testing.T) {
	h := newHarness(t, dev)
	ctx := context.Background()

	for _, body := range []string{"oi", "2", "João", "1", "sim"} {
		h.svc.Dispatch(ctx, text("A", body))
		h.svc.Dispatch(ctx, text("B", body))
	}
	h.svc.Wait()

	want := []string{
		conversation.ReplyWelcome,
		conversation.ReplyAskName,
		conversation.PostingList([]catalog.JobPosting{dev}),
		conversation.PostingConfirmation(dev),
		conversation.ReplyAskResume,
	}
	for _, chatID := range []string{"A", "B"} {
		got := h.sender.textsFor(chatID)
		if len(got) != len(want) {
			t.Fatalf("%s got %d replies, want %d", chatID, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s reply %d = %q, want %q", chatID, i, got[i], want[i])
			}
		}
	}
	if h.svc.ActiveWorkers() != 0 {
		t.Fatalf("workers not retired after idle timeout")
	}
}

func TestSlowChatDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, dev)
	gate := make(chan struct{})
	h.sender.mu.Lock()
	h.sender.block["A"] = gate
	h.sender.mu.Unlock()

	ctx := context.Background()
	h.svc.Dispatch(ctx, text("A", "oi"))
	h.svc.Dispatch(ctx, text("B", "oi"))

	deadline := time.Now().Add(5 * time.Second)
	for len(h.sender.textsFor("B")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("chat B was blocked by chat A")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.sender.textsFor("A")) != 0 {
		t.Fatalf("chat A reply should still be blocked")
	}
	close(gate)
	h.svc.Wait()
	if got := h.sender.last("A"); got != conversation.ReplyWelcome {
		t.Fatalf("chat A reply = %q", got)
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := newHarness(t, dev)
	gate := make(chan struct{})
	h.sender.mu.Lock()
	h.sender.block["A"] = gate
	h.sender.mu.Unlock()

	ctx := context.Background()
	h.svc.Dispatch(ctx, text("A", "oi"))
	// Wait until A's worker is parked in Send so the queue fills behind it.
	deadline := time.Now().Add(5 * time.Second)
	for h.stage("A") != session.StageMenu {
		if time.Now().After(deadline) {
			t.Fatalf("chat A was never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A single goroutine dispatches for every chat, like a transport.
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for i := 0; i < queueSize+2; i++ {
			h.svc.Dispatch(ctx, text("A", "9"))
		}
		h.svc.Dispatch(ctx, text("B", "oi"))
	}()

	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		close(gate)
		t.Fatalf("dispatch blocked on chat A's full queue")
	}
	deadline = time.Now().Add(5 * time.Second)
	for len(h.sender.textsFor("B")) == 0 {
		if time.Now().After(deadline) {
			close(gate)
			t.Fatalf("chat B was not served while chat A was stuck")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.sender.last("B"); got != conversation.ReplyWelcome {
		t.Fatalf("chat B reply = %q, want welcome", got)
	}

	close(gate)
	h.svc.Wait()
	// One in flight plus a full queue; the overflow never reached the worker.
	if got := len(h.sender.textsFor("A")); got > 1+queueSize {
		t.Fatalf("chat A got %d replies, want at most %d", got, 1+queueSize)
	}
}
