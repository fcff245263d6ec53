package analysis

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/resumind/resumind/pkg/queue"
)

// ParseText extracts plain text from a text-like document. Binary formats
// are rejected permanently; they need an external converter upstream.
func ParseText(doc *Document) (string, error) {
	if !utf8.Valid(doc.Body) {
		return "", queue.Permanent(fmt.Errorf("unsupported document %q: not UTF-8 text", doc.ContentType))
	}
	body := string(bytes.TrimPrefix(doc.Body, []byte("\xef\xbb\xbf")))

	switch {
	case doc.ContentType == "text/html":
		body = html.UnescapeString(tagPattern.ReplaceAllString(body, " "))
	case strings.HasPrefix(doc.ContentType, "text/"),
		doc.ContentType == "application/json",
		doc.ContentType == "application/octet-stream":
	default:
		return "", queue.Permanent(fmt.Errorf("unsupported document type %q", doc.ContentType))
	}

	text := normalizeSpace(body)
	if text == "" {
		return "", queue.Permanent(fmt.Errorf("document %q contains no text", doc.Name))
	}
	return text, nil
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
	spacePattern = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d ().\-]{7,}\d`)
	linkPattern  = regexp.MustCompile(`https?://[^\s)>\]]+`)
	wordPattern  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+#.\-]*`)
)

func normalizeSpace(s string) string {
	lines := strings.Split(spacePattern.ReplaceAllString(s, " "), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// Profile is the structured view of a resume.
type Profile struct {
	Sections  map[string]string `json:"sections"`
	Skills    []string          `json:"skills"`
	Emails    []string          `json:"emails,omitempty"`
	Phones    []string          `json:"phones,omitempty"`
	Links     []string          `json:"links,omitempty"`
	WordCount int               `json:"wordCount"`
	Text      string            `json:"-"`
}

// sectionHeadings maps heading spellings to canonical section names.
var sectionHeadings = map[string]string{
	"summary":          "summary",
	"profile":          "summary",
	"about me":         "summary",
	"experience":       "experience",
	"work experience":  "experience",
	"employment":       "experience",
	"education":        "education",
	"skills":           "skills",
	"technical skills": "skills",
	"projects":         "projects",
	"certifications":   "certifications",
	"languages":        "languages",
}

// knownSkills is the vocabulary matched by ExtractProfile, lower-cased.
var knownSkills = []string{
	"go", "golang", "python", "java", "javascript", "typescript", "rust", "c++", "c#", "ruby", "php", "kotlin", "swift",
	"sql", "postgresql", "mysql", "redis", "mongodb", "kafka", "rabbitmq", "elasticsearch",
	"docker", "kubernetes", "terraform", "aws", "gcp", "azure", "linux", "git", "ci/cd",
	"react", "vue", "angular", "node.js", "graphql", "grpc", "rest",
	"machine learning", "data analysis", "nlp", "pytorch", "tensorflow",
	"leadership", "communication", "project management", "agile", "scrum",
}

// ExtractProfile splits text into sections and collects skills and contact hints.
func ExtractProfile(text string) Profile {
	p := Profile{
		Sections:  splitSections(text),
		Emails:    unique(emailPattern.FindAllString(text, -1)),
		Phones:    unique(phonePattern.FindAllString(text, -1)),
		Links:     unique(linkPattern.FindAllString(text, -1)),
		WordCount: len(wordPattern.FindAllString(text, -1)),
		Text:      text,
	}
	tokens := tokenSet(text)
	lower := strings.ToLower(text)
	for _, skill := range knownSkills {
		if strings.Contains(skill, " ") || strings.ContainsAny(skill, "./") {
			if strings.Contains(lower, skill) {
				p.Skills = append(p.Skills, skill)
			}
			continue
		}
		if tokens[skill] {
			p.Skills = append(p.Skills, skill)
		}
	}
	sort.Strings(p.Skills)
	return p
}

func splitSections(text string) map[string]string {
	sections := make(map[string]string)
	current := "header"
	var buf []string
	flush := func() {
		if body := strings.TrimSpace(strings.Join(buf, "\n")); body != "" {
			if prev, ok := sections[current]; ok {
				body = prev + "\n" + body
			}
			sections[current] = body
		}
		buf = buf[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		heading := strings.ToLower(strings.Trim(strings.TrimSpace(line), ":#*- "))
		if name, ok := sectionHeadings[heading]; ok {
			flush()
			current = name
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		set[strings.TrimRight(w, ".-")] = true
	}
	return set
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
