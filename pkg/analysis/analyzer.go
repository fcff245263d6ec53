package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Analysis is the outcome of scoring a profile.
type Analysis struct {
	Score           int      `json:"score"`
	MatchedSkills   []string `json:"matchedSkills"`
	MissingSkills   []string `json:"missingSkills"`
	Recommendations []string `json:"recommendations"`
}

// Analyzer is the long-running scoring operation. report may be called with
// a 0-100 fraction of the analyzer's own work.
type Analyzer interface {
	Analyze(ctx context.Context, profile Profile, jobDescription string, report func(pct int)) (*Analysis, error)
}

// KeywordAnalyzer scores a resume by the overlap between its skills and the
// skills named in the job description.
type KeywordAnalyzer struct{}

// Analyze implements Analyzer.
func (KeywordAnalyzer) Analyze(ctx context.Context, profile Profile, jobDescription string, report func(pct int)) (*Analysis, error) {
	if report == nil {
		report = func(int) {}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(profile.Skills))
	for _, s := range profile.Skills {
		have[s] = true
	}

	a := &Analysis{MatchedSkills: []string{}, MissingSkills: []string{}}
	wanted := ExtractProfile(jobDescription).Skills
	report(30)

	if len(wanted) == 0 {
		// Without a job description the score reflects resume completeness only.
		a.MatchedSkills = append(a.MatchedSkills, profile.Skills...)
		a.Score = completeness(profile)
	} else {
		for _, s := range wanted {
			if have[s] {
				a.MatchedSkills = append(a.MatchedSkills, s)
			} else {
				a.MissingSkills = append(a.MissingSkills, s)
			}
		}
		match := 100 * len(a.MatchedSkills) / len(wanted)
		a.Score = (match*7 + completeness(profile)*3) / 10
	}
	report(70)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.Recommendations = recommend(profile, a)
	report(100)
	return a, nil
}

var expectedSections = []string{"summary", "experience", "education", "skills"}

func completeness(p Profile) int {
	score := 0
	for _, s := range expectedSections {
		if p.Sections[s] != "" {
			score += 20
		}
	}
	if len(p.Emails) > 0 || len(p.Phones) > 0 {
		score += 10
	}
	if p.WordCount >= 200 {
		score += 10
	}
	return score
}

func recommend(p Profile, a *Analysis) []string {
	var out []string
	for _, s := range expectedSections {
		if p.Sections[s] == "" {
			out = append(out, fmt.Sprintf("Add a %s section", s))
		}
	}
	if len(p.Emails) == 0 && len(p.Phones) == 0 {
		out = append(out, "Include contact details")
	}
	if p.WordCount < 200 {
		out = append(out, "Expand the resume with more detail on experience and impact")
	}
	if len(a.MissingSkills) > 0 {
		missing := append([]string(nil), a.MissingSkills...)
		sort.Strings(missing)
		out = append(out, "Highlight experience with "+strings.Join(missing, ", "))
	}
	if out == nil {
		out = []string{}
	}
	return out
}
