package conversation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ent0n29/recruiter/internal/catalog"
	"github.com/ent0n29/recruiter/internal/session"
)

// DefaultMaxConfirmationAttempts is the number of invalid confirmation
// replies that ends a conversation.
const DefaultMaxConfirmationAttempts = 3

// Kind classifies why a transition ended the way it did.
type Kind int

const (
	KindAdvanced Kind = iota
	KindUserInput
	KindResourceUnavailable
	KindAttemptLimitExceeded
	KindDeclined
	KindReturning
	KindAwaitingAttachment
	KindSubmission
)

func (k Kind) String() string {
	switch k {
	case KindAdvanced:
		return "advanced"
	case KindUserInput:
		return "user_input"
	case KindResourceUnavailable:
		return "resource_unavailable"
	case KindAttemptLimitExceeded:
		return "attempt_limit_exceeded"
	case KindDeclined:
		return "declined"
	case KindReturning:
		return "returning"
	case KindAwaitingAttachment:
		return "awaiting_attachment"
	case KindSubmission:
		return "submission"
	default:
		return "unknown"
	}
}

// Message is the part of an inbound event the dialogue looks at.
type Message struct {
	Body          string
	SenderName    string
	HasAttachment bool
}

// SubmissionIntent asks the caller to run the submission pipeline with the
// message's attachment.
type SubmissionIntent struct {
	CandidateName string
	SenderName    string
	Job           catalog.JobPosting
}

// Outcome is the result of one transition. A nil Next destroys the session.
type Outcome struct {
	Next          *session.Session
	Replies       []string
	Submission    *SubmissionIntent
	StartCooldown bool
	Kind          Kind
}

// Machine holds the read-only inputs of the dialogue.
type Machine struct {
	catalog     *catalog.Snapshot
	maxAttempts int
}

func NewMachine(snapshot *catalog.Snapshot, maxAttempts int) *Machine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxConfirmationAttempts
	}
	return &Machine{catalog: snapshot, maxAttempts: maxAttempts}
}

type stageHandler func(m *Machine, cur *session.Session, msg Message) Outcome

var handlers = map[session.Stage]stageHandler{
	session.StageMenu:              (*Machine).onMenu,
	session.StageAwaitName:         (*Machine).onAwaitName,
	session.StageAwaitJobSelection: (*Machine).onAwaitJobSelection,
	session.StageAwaitConfirmation: (*Machine).onAwaitConfirmation,
	session.StageAwaitResume:       (*Machine).onAwaitResume,
}

// Transition computes the next state for cur (nil when the correspondent
// has no session) given msg. It has no side effects.
func (m *Machine) Transition(cur *session.Session, msg Message) Outcome {
	if cur == nil {
		return m.start()
	}
	h, ok := handlers[cur.Stage]
	if !ok {
		return m.start()
	}
	return h(m, cur, msg)
}

func (m *Machine) start() Outcome {
	return Outcome{
		Next:    &session.Session{Stage: session.StageMenu},
		Replies: []string{ReplyWelcome},
		Kind:    KindAdvanced,
	}
}

func (m *Machine) onMenu(cur *session.Session, msg Message) Outcome {
	switch normalizeToken(msg.Body) {
	case "1":
		return Outcome{
			Replies:       []string{ReplyReturning},
			StartCooldown: true,
			Kind:          KindReturning,
		}
	case "2":
		next := *cur
		next.Stage = session.StageAwaitName
		return Outcome{Next: &next, Replies: []string{ReplyAskName}, Kind: KindAdvanced}
	default:
		return stay(cur, ReplyInvalidOption)
	}
}

func (m *Machine) onAwaitName(cur *session.Session, msg Message) Outcome {
	name := strings.TrimSpace(msg.Body)
	if name == "" {
		return stay(cur, ReplyAskName)
	}
	postings := m.catalog.All()
	if len(postings) == 0 {
		return Outcome{Replies: []string{ReplyNoPostings}, Kind: KindResourceUnavailable}
	}
	next := *cur
	next.CandidateName = name
	next.Stage = session.StageAwaitJobSelection
	return Outcome{Next: &next, Replies: []string{PostingList(postings)}, Kind: KindAdvanced}
}

func (m *Machine) onAwaitJobSelection(cur *session.Session, msg Message) Outcome {
	job, ok := m.catalog.Find(msg.Body)
	if !ok {
		return stay(cur, ReplyPostingNotFound)
	}
	next := *cur
	next.SelectedJob = &job
	next.ConfirmationAttempts = 0
	next.Stage = session.StageAwaitConfirmation
	return Outcome{Next: &next, Replies: []string{PostingConfirmation(job)}, Kind: KindAdvanced}
}

func (m *Machine) onAwaitConfirmation(cur *session.Session, msg Message) Outcome {
	switch normalizeToken(msg.Body) {
	case "sim":
		next := *cur
		next.Stage = session.StageAwaitResume
		return Outcome{Next: &next, Replies: []string{ReplyAskResume}, Kind: KindAdvanced}
	case "nao":
		return Outcome{Replies: []string{ReplyDeclined}, Kind: KindDeclined}
	}

	attempts := cur.ConfirmationAttempts + 1
	if attempts >= m.maxAttempts {
		return Outcome{Replies: []string{ReplyTooManyAttempts}, Kind: KindAttemptLimitExceeded}
	}
	next := *cur
	next.ConfirmationAttempts = attempts
	return Outcome{Next: &next, Replies: []string{ReplyInvalidAnswer}, Kind: KindUserInput}
}

// onAwaitResume stays silent on messages without media.
func (m *Machine) onAwaitResume(cur *session.Session, msg Message) Outcome {
	if !msg.HasAttachment || cur.SelectedJob == nil {
		next := *cur
		return Outcome{Next: &next, Kind: KindAwaitingAttachment}
	}
	return Outcome{
		Submission: &SubmissionIntent{
			CandidateName: cur.CandidateName,
			SenderName:    msg.SenderName,
			Job:           *cur.SelectedJob,
		},
		Kind: KindSubmission,
	}
}

func stay(cur *session.Session, reply string) Outcome {
	next := *cur
	return Outcome{Next: &next, Replies: []string{reply}, Kind: KindUserInput}
}

// normalizeToken folds case and strips diacritics so "Não", "NAO" and
// "nao" compare equal.
func normalizeToken(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return cases.Lower(language.BrazilianPortuguese).String(out)
}
