package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/conversation"
	"github.com/ent0n29/recruiter/internal/cooldown"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/policy"
	"github.com/ent0n29/recruiter/internal/reliability"
	"github.com/ent0n29/recruiter/internal/session"
	"github.com/ent0n29/recruiter/internal/submission"
)

const (
	queueSize          = 16
	DefaultIdleTimeout = 2 * time.Minute
)

// Submitter runs the submission pipeline for a completed conversation.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) submission.Result
}

type Config struct {
	Sender    chat.Sender
	SelfID    func() string
	Machine   *conversation.Machine
	Registry  *session.Registry
	Cooldown  *cooldown.Supervisor
	Submitter Submitter
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// IdleTimeout retires a chat's worker after this long without events.
	IdleTimeout time.Duration
}

type chatWorker struct {
	jobs    chan chat.Event
	pending int
}

// Service routes inbound events to one sequential worker per chat id and
// drives each event through cooldown, transition and side effects.
type Service struct {
	sender    chat.Sender
	selfID    func() string
	machine   *conversation.Machine
	registry  *session.Registry
	cooldown  *cooldown.Supervisor
	submitter Submitter
	metrics   *observability.Metrics
	logger    *slog.Logger
	idle      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*chatWorker
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	selfID := cfg.SelfID
	if selfID == nil {
		selfID = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sender:    cfg.Sender,
		selfID:    selfID,
		machine:   cfg.Machine,
		registry:  cfg.Registry,
		cooldown:  cfg.Cooldown,
		submitter: cfg.Submitter,
		metrics:   cfg.Metrics,
		logger:    logger,
		idle:      idle,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]*chatWorker),
	}
}

// Run feeds the transport's events into the service until ctx is done,
// then stops all workers.
func (s *Service) Run(ctx context.Context, t chat.Transport) error {
	defer s.Close()
	s.logger.Info("intake service started", "idle_timeout", s.idle.String())
	return t.Run(ctx, s.Dispatch)
}

// Dispatch filters ev and queues it on its chat's worker without blocking:
// when that worker's queue is full the event is dropped, so one slow chat
// never stalls the transport's receive loop. Dispatch satisfies chat.Handler.
func (s *Service) Dispatch(ctx context.Context, ev chat.Event) {
	if reason, drop := s.filter(ev); drop {
		s.countInbound(reason)
		return
	}
	if ctx.Err() != nil || s.ctx.Err() != nil {
		s.countInbound("dropped_shutdown")
		return
	}

	s.mu.Lock()
	w, ok := s.workers[ev.ChatID]
	if !ok {
		w = &chatWorker{jobs: make(chan chat.Event, queueSize)}
		s.workers[ev.ChatID] = w
		s.wg.Add(1)
		go s.runWorker(ev.ChatID, w)
	}
	w.pending++
	s.mu.Unlock()

	select {
	case w.jobs <- ev:
	default:
		s.dropPending(w)
		s.countInbound("dropped_queue_full")
		s.logger.Warn("chat queue full; event dropped",
			"chat_id", policy.MaskChatID(ev.ChatID),
			"queue_size", queueSize,
		)
	}
}

// Wait blocks until every worker has drained its queue and retired.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight work and waits for the workers to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// ActiveWorkers reports how many chats currently have a worker.
func (s *Service) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Service) filter(ev chat.Event) (string, bool) {
	switch {
	case ev.ChatID == "":
		return "filtered_invalid", true
	case ev.ChatID == s.selfID():
		return "filtered_self", true
	case ev.FromGroup():
		return "filtered_group", true
	}
	return "", false
}

func (s *Service) dropPending(w *chatWorker) {
	s.mu.Lock()
	w.pending--
	s.mu.Unlock()
}

func (s *Service) runWorker(chatID string, w *chatWorker) {
	defer s.wg.Done()
	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			delete(s.workers, chatID)
			s.mu.Unlock()
			return
		case ev := <-w.jobs:
			s.Process(s.ctx, ev)
			s.mu.Lock()
			w.pending--
			s.mu.Unlock()
			timer.Reset(s.idle)
		case <-timer.C:
			s.mu.Lock()
			if w.pending == 0 {
				delete(s.workers, chatID)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			timer.Reset(s.idle)
		}
	}
}

// Process handles one event synchronously. Callers must not process two
// events for the same chat id concurrently; Dispatch guarantees that.
func (s *Service) Process(ctx context.Context, ev chat.Event) {
	logger := s.logger.With("chat_id", policy.MaskChatID(ev.ChatID))

	if s.cooldown != nil && s.cooldown.Active(ctx, ev.ChatID) {
		s.countInbound("cooldown")
		logger.Debug("event dropped during cooldown")
		return
	}
	s.countInbound("processed")

	msg := conversation.Message{
		Body:          ev.Body,
		SenderName:    ev.SenderName,
		HasAttachment: ev.HasAttachment,
	}
	var (
		out     conversation.Outcome
		from    session.Stage
		existed bool
	)
	stored := s.registry.Mutate(ev.ChatID, func(cur *session.Session) *session.Session {
		if cur != nil {
			existed = true
			from = cur.Stage
		}
		out = s.machine.Transition(cur, msg)
		if out.Submission != nil {
			// Kept until the pipeline finishes.
			return cur
		}
		return out.Next
	})
	s.observeTransition(from, out.Kind, existed, stored != nil)
	logger.Debug("transition", "from", from.String(), "kind", out.Kind.String())

	if out.StartCooldown && s.cooldown != nil {
		if err := s.cooldown.Mark(ctx, ev.ChatID); err != nil {
			logger.Warn("cooldown mark failed", "error", err)
		}
	}

	s.reply(ctx, logger, ev.ChatID, out.Replies...)

	if out.Submission != nil {
		s.submit(ctx, logger, ev, *out.Submission)
	}
	s.observeActive()
}

func (s *Service) submit(ctx context.Context, logger *slog.Logger, ev chat.Event, intent conversation.SubmissionIntent) {
	var res submission.Result
	att, err := ev.FetchAttachment(ctx)
	if err != nil {
		res = submission.Result{
			CandidateName: submission.ResolveName(intent.CandidateName, intent.SenderName),
			Err:           fmt.Errorf("%w: %w", submission.ErrFetchAttachment, err),
		}
	} else {
		res = s.submitter.Submit(ctx, submission.Request{
			NameCandidates: []string{intent.CandidateName, intent.SenderName},
			Job:            intent.Job,
			Resume:         att,
		})
	}

	if s.registry.Destroy(ev.ChatID) && s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("destroyed").Inc()
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission(res.Stage(), res.Duration)
	}

	if !res.OK() {
		detail, _ := policy.RedactPII(res.Err.Error())
		logger.Error("submission failed",
			"submission_id", res.ID,
			"stage", res.Stage(),
			"job_id", intent.Job.ID,
			"retryable", reliability.IsTransient(res.Err),
			"error", detail,
		)
		s.reply(ctx, logger, ev.ChatID, conversation.ReplyResumeFailed)
		return
	}
	logger.Info("submission completed",
		"submission_id", res.ID,
		"card_id", res.CardID,
		"job_id", intent.Job.ID,
		"duration_ms", res.Duration.Milliseconds(),
	)
	s.reply(ctx, logger, ev.ChatID, conversation.ReplyResumeReceived)
}

// reply sends texts in order. Delivery is best-effort: failures are logged
// and counted, never retried.
func (s *Service) reply(ctx context.Context, logger *slog.Logger, chatID string, texts ...string) {
	for _, text := range texts {
		if err := s.sender.Send(ctx, chatID, text); err != nil {
			logger.Warn("reply failed", "error", err)
			s.countReply("failed")
			continue
		}
		s.countReply("sent")
	}
}

func (s *Service) countInbound(outcome string) {
	if s.metrics != nil {
		s.metrics.InboundEvents.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countReply(result string) {
	if s.metrics != nil {
		s.metrics.Replies.WithLabelValues(result).Inc()
	}
}

func (s *Service) observeTransition(from session.Stage, kind conversation.Kind, existed, stored bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(from.String(), kind.String()).Inc()
	switch {
	case !existed && stored:
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	case existed && !stored:
		s.metrics.SessionEvents.WithLabelValues("destroyed").Inc()
	}
}

func (s *Service) observeActive() {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	}
}
