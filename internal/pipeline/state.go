package pipeline

import (
	"time"

	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
)

// State is the accumulated result of a query flowing through the pipeline.
// Stages never mutate it directly; each returns a typed update that writes
// only the fields that stage owns, so a misbehaving stage cannot clobber an
// earlier stage's output.
type State struct {
	Query     string
	UserID    string
	SessionID string

	Answer        string
	RetrievedDocs []retrieval.Document
	Evaluation    *judge.Evaluation
	ModelUsed     string
	GenerationMS  float64
	CostUSD       float64

	CacheHit      bool
	CacheTier     string
	QualityPassed bool
	UsedFallback  bool

	StartedAt time.Time
	Errors    []string
}

func newState(query, userID, sessionID string) *State {
	return &State{
		Query:     query,
		UserID:    userID,
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
}

type stateUpdate interface {
	apply(s *State)
}

// noopUpdate is substituted when a stage panics or has nothing to write.
type noopUpdate struct{}

func (noopUpdate) apply(*State) {}

type cacheCheckUpdate struct {
	hit    bool
	tier   string
	answer string
}

func (u cacheCheckUpdate) apply(s *State) {
	s.CacheHit = u.hit
	s.CacheTier = u.tier
	if u.hit {
		s.Answer = u.answer
	}
}

type retrievalUpdate struct {
	docs []retrieval.Document
	err  string
}

func (u retrievalUpdate) apply(s *State) {
	s.RetrievedDocs = u.docs
	if u.err != "" {
		s.Errors = append(s.Errors, u.err)
	}
}

type generationUpdate struct {
	answer    string
	model     string
	latencyMS float64
	costUSD   float64
	err       string
}

func (u generationUpdate) apply(s *State) {
	s.Answer = u.answer
	s.ModelUsed = u.model
	s.GenerationMS = u.latencyMS
	s.CostUSD = u.costUSD
	if u.err != "" {
		s.Errors = append(s.Errors, u.err)
	}
}

type judgeUpdate struct {
	evaluation *judge.Evaluation
	passed     bool
	err        string
}

func (u judgeUpdate) apply(s *State) {
	s.Evaluation = u.evaluation
	s.QualityPassed = u.passed
	if u.err != "" {
		s.Errors = append(s.Errors, u.err)
	}
}

type fallbackUpdate struct {
	answer       string
	usedFallback bool
}

func (u fallbackUpdate) apply(s *State) {
	if u.usedFallback {
		s.Answer = u.answer
		s.UsedFallback = true
	}
}

type memoryUpdate struct {
	errs []string
}

func (u memoryUpdate) apply(s *State) {
	s.Errors = append(s.Errors, u.errs...)
}
