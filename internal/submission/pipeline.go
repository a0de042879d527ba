package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ent0n29/recruiter/internal/catalog"
	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/trello"
)

// AnonymousName is used when neither the candidate nor the transport
// supplied a name.
const AnonymousName = "Candidato Anônimo"

var (
	ErrFetchAttachment = errors.New("fetch attachment")
	ErrCreateCard      = errors.New("create card")
	ErrStoreResume     = errors.New("store resume")
	ErrAttachFile      = errors.New("attach file")
)

// Ticketing creates the tracking card for an application.
type Ticketing interface {
	CreateCard(ctx context.Context, req trello.CardRequest) (trello.Card, error)
	AttachFile(ctx context.Context, cardID, fileName string, r io.Reader) error
}

// ResumeStore keeps a local copy of every submitted resume.
type ResumeStore interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, error)
}

// Request is built once per completed conversation.
type Request struct {
	// NameCandidates are tried in order; blanks are skipped.
	NameCandidates []string
	Job            catalog.JobPosting
	Resume         chat.Attachment
}

type Result struct {
	ID            string
	CandidateName string
	CardID        string
	FileName      string
	StoredPath    string
	Duration      time.Duration
	Err           error
}

func (r Result) OK() bool { return r.Err == nil }

// Stage names the step that failed, or "ok".
func (r Result) Stage() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, ErrFetchAttachment):
		return "fetch_attachment"
	case errors.Is(r.Err, ErrCreateCard):
		return "create_card"
	case errors.Is(r.Err, ErrStoreResume):
		return "store_resume"
	case errors.Is(r.Err, ErrAttachFile):
		return "attach_file"
	default:
		return "unknown"
	}
}

type Pipeline struct {
	ticketing Ticketing
	store     ResumeStore
	listID    string
	logger    *slog.Logger
}

func NewPipeline(ticketing Ticketing, store ResumeStore, listID string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ticketing: ticketing,
		store:     store,
		listID:    listID,
		logger:    logger,
	}
}

// Submit runs card creation, local storage and upload. It never retries;
// the returned Result carries the first failure.
func (p *Pipeline) Submit(ctx context.Context, req Request) Result {
	started := time.Now()
	res := Result{
		ID:            uuid.NewString(),
		CandidateName: ResolveName(req.NameCandidates...),
	}
	res.Err = p.run(ctx, req, &res)
	res.Duration = time.Since(started)
	return res
}

func (p *Pipeline) run(ctx context.Context, req Request, res *Result) error {
	card, err := p.ticketing.CreateCard(ctx, trello.CardRequest{
		Name:        CardTitle(res.CandidateName, req.Job),
		Description: CardDescription(req.Job),
		ListID:      p.listID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateCard, err)
	}
	res.CardID = card.ID

	res.FileName = FileName(res.CandidateName, req.Job.Title, req.Resume.MimeType)
	path, err := p.store.Save(res.FileName, req.Resume.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreResume, err)
	}
	res.StoredPath = path

	f, err := p.store.Open(res.FileName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreResume, err)
	}
	defer f.Close()
	if err := p.ticketing.AttachFile(ctx, card.ID, res.FileName, f); err != nil {
		return fmt.Errorf("%w: %w", ErrAttachFile, err)
	}
	p.logger.Info("application submitted", "submission_id", res.ID, "card_id", card.ID, "job_id", req.Job.ID)
	return nil
}

func ResolveName(candidates ...string) string {
	for _, c := range candidates {
		if name := strings.TrimSpace(c); name != "" {
			return name
		}
	}
	return AnonymousName
}

func CardTitle(name string, job catalog.JobPosting) string {
	return name + " - " + job.Title
}

func CardDescription(job catalog.JobPosting) string {
	return "Candidato para a vaga: " + job.Title
}

// maxNamePartBytes bounds each free-text part of a resume file name so the
// whole stays under the usual 255-byte file name limit.
const maxNamePartBytes = 100

// FileName derives "{name}_{title}.{ext}" with the extension taken from
// the MIME subtype. Path separators are replaced so the result is always a
// single path element.
func FileName(name, title, mimeType string) string {
	name = truncateUTF8(name, maxNamePartBytes)
	title = truncateUTF8(title, maxNamePartBytes)
	return sanitize(name + "_" + title + "." + extension(mimeType))
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func extension(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || strings.TrimSpace(sub) == "" {
		return "bin"
	}
	return truncateUTF8(strings.ToLower(strings.TrimSpace(sub)), 16)
}

var unsafeNameChars = strings.NewReplacer("/", "_", `\`, "_", "\x00", "_")

func sanitize(name string) string {
	return unsafeNameChars.Replace(name)
}
