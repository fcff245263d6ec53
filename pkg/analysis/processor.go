package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/pipeline"
	"github.com/resumind/resumind/pkg/queue"
)

// Stage names, in pipeline order.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StageExtract = "extract"
	StageAnalyze = "analyze"
	StageStore   = "store"
)

// State is the per-job working set. It is confined to one attempt.
type State struct {
	JobID    string
	Payload  ResumeAnalysisPayload
	Document *Document
	Text     string
	Profile  Profile
	Analysis *Analysis
	StoredAt time.Time
}

// Summary is the bounded result published with the completed update.
type Summary struct {
	ResumeID      string   `json:"resumeId"`
	Score         int      `json:"score"`
	Skills        int      `json:"skills"`
	MatchedSkills []string `json:"matchedSkills"`
	MissingSkills []string `json:"missingSkills"`
	WordCount     int      `json:"wordCount"`
}

const maxSummarySkills = 10

// Summarize builds the summary of a finished analysis.
func Summarize(s *State) any {
	sum := Summary{ResumeID: s.Payload.ResumeID, Skills: len(s.Profile.Skills), WordCount: s.Profile.WordCount}
	if s.Analysis != nil {
		sum.Score = s.Analysis.Score
		sum.MatchedSkills = head(s.Analysis.MatchedSkills, maxSummarySkills)
		sum.MissingSkills = head(s.Analysis.MissingSkills, maxSummarySkills)
	}
	return sum
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Deps are the collaborators of the analysis stages.
type Deps struct {
	Fetcher  Fetcher
	Analyzer Analyzer
	Results  ResultStore
	Now      func() time.Time
	// Logger defaults to the global logger with component=analysis.
	Logger *zerolog.Logger
}

type stages struct {
	Deps
	logger zerolog.Logger
}

func (s *stages) fetch(ctx context.Context, st *State, report pipeline.Reporter) error {
	name := st.Payload.FileName
	if name == "" {
		name = st.Payload.ResumeID
	}
	doc, err := s.Fetcher.Fetch(ctx, st.Payload.FileURL, name)
	if err != nil {
		return err
	}
	st.Document = doc
	report(20, fmt.Sprintf("Downloaded %d bytes", len(doc.Body)))
	return nil
}

func (s *stages) parse(_ context.Context, st *State, _ pipeline.Reporter) error {
	if st.Document == nil {
		return queue.Permanent(errors.New("no document fetched"))
	}
	text, err := ParseText(st.Document)
	if err != nil {
		return err
	}
	st.Text = text
	return nil
}

func (s *stages) extract(_ context.Context, st *State, report pipeline.Reporter) error {
	st.Profile = ExtractProfile(st.Text)
	report(60, fmt.Sprintf("Found %d skills", len(st.Profile.Skills)))
	return nil
}

func (s *stages) analyze(ctx context.Context, st *State, report pipeline.Reporter) error {
	a, err := s.Analyzer.Analyze(ctx, st.Profile, st.Payload.JobDescription, func(pct int) {
		// Map the analyzer's 0-100 onto the analyze stage's band.
		report(70+pct*20/100, "Analyzing")
	})
	if err != nil {
		return err
	}
	st.Analysis = a
	return nil
}

func (s *stages) store(ctx context.Context, st *State, _ pipeline.Reporter) error {
	if st.Analysis == nil {
		return queue.Permanent(errors.New("no analysis to store"))
	}
	st.StoredAt = s.Now()
	err := s.Results.Save(ctx, &Result{
		JobID:          st.JobID,
		ResumeID:       st.Payload.ResumeID,
		CandidateID:    st.Payload.CandidateID,
		OrganizationID: st.Payload.OrganizationID,
		Profile:        st.Profile,
		Analysis:       *st.Analysis,
		CreatedAt:      st.StoredAt,
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("job_id", st.JobID).
		Str("resume_id", st.Payload.ResumeID).
		Int("score", st.Analysis.Score).
		Msg("Analysis stored")
	return nil
}

// NewPipeline builds the five-stage resume analysis pipeline.
func NewPipeline(publisher pipeline.Publisher, deps Deps, opts ...pipeline.Option) (*pipeline.Pipeline[*State], error) {
	if deps.Fetcher == nil || deps.Results == nil {
		return nil, errors.New("analysis: fetcher and result store are required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = KeywordAnalyzer{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &stages{Deps: deps, logger: log.With().Str("component", "analysis").Logger()}
	if deps.Logger != nil {
		s.logger = *deps.Logger
	}
	return pipeline.New(publisher, Summarize, []pipeline.Stage[*State]{
		{Name: StageFetch, Progress: 10, Run: s.fetch},
		{Name: StageParse, Progress: 30, Run: s.parse},
		{Name: StageExtract, Progress: 50, Run: s.extract},
		{Name: StageAnalyze, Progress: 70, Run: s.analyze},
		{Name: StageStore, Progress: 90, Run: s.store},
	}, opts...)
}

// Register declares the analysis queue on m, unless already declared, and
// attaches the pipeline as its processor.
func Register(m *queue.Manager, p *pipeline.Pipeline[*State], concurrency int, opts queue.QueueOptions) error {
	if _, ok := m.Queue(QueueName); !ok {
		m.RegisterQueue(QueueName, opts)
	}
	return m.Process(QueueName, concurrency, p.Processor(DecodeState))
}
