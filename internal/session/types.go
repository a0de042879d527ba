package session

import (
	"time"

	"github.com/ent0n29/recruiter/internal/catalog"
)

// Stage is a correspondent's position in the intake dialogue. A missing
// session is the implicit initial state.
type Stage int

const (
	StageMenu Stage = iota + 1
	StageAwaitName
	StageAwaitJobSelection
	StageAwaitConfirmation
	StageAwaitResume
)

// Stages lists every stage in dialogue order.
var Stages = []Stage{
	StageMenu,
	StageAwaitName,
	StageAwaitJobSelection,
	StageAwaitConfirmation,
	StageAwaitResume,
}

func (s Stage) String() string {
	switch s {
	case StageMenu:
		return "menu"
	case StageAwaitName:
		return "await_name"
	case StageAwaitJobSelection:
		return "await_job_selection"
	case StageAwaitConfirmation:
		return "await_confirmation"
	case StageAwaitResume:
		return "await_resume"
	default:
		return "none"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Session struct {
	ChatID               string              `json:"chat_id"`
	Stage                Stage               `json:"stage"`
	CandidateName        string              `json:"candidate_name,omitempty"`
	SelectedJob          *catalog.JobPosting `json:"selected_job,omitempty"`
	ConfirmationAttempts int                 `json:"confirmation_attempts"`
	StartedAt            time.Time           `json:"started_at"`
	LastActivityAt       time.Time           `json:"last_activity_at"`
}

// StatsResponse summarizes live sessions for the ops endpoint.
type StatsResponse struct {
	Active  int            `json:"active"`
	ByStage map[string]int `json:"by_stage"`
	TTLMS   int64          `json:"ttl_ms"`
}
