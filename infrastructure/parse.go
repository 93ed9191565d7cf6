package infrastructure

import (
	"context"
	"regexp"
	"strings"

	"resume-pipeline/domain"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9()\-\s.]{7,}[0-9]`)
)

// sectionHeadings are the resume headings the parser splits on, lowercased.
var sectionHeadings = []string{
	"summary",
	"profile",
	"experience",
	"work experience",
	"employment history",
	"education",
	"skills",
	"technical skills",
	"projects",
	"certifications",
	"languages",
}

// HeuristicParser derives structured resume fields from extracted text with
// plain string heuristics. It is deliberately forgiving: a resume with no
// recognizable sections still parses, it just carries fewer fields.
type HeuristicParser struct{}

func NewHeuristicParser() *HeuristicParser {
	return &HeuristicParser{}
}

func (p *HeuristicParser) ParseStructured(ctx context.Context, text string, metadata map[string]string) (*domain.ResumeFields, error) {
	fields := &domain.ResumeFields{
		TextLength: len(text),
		Sections:   map[string]string{},
	}

	fields.Email = emailRe.FindString(text)
	fields.Phone = strings.TrimSpace(phoneRe.FindString(text))
	fields.Name = guessName(text)

	splitSections(text, fields.Sections)
	if summary, ok := firstOf(fields.Sections, "summary", "profile"); ok {
		fields.Summary = summary
	}
	if skills, ok := firstOf(fields.Sections, "skills", "technical skills"); ok {
		fields.Skills = splitSkills(skills)
	}

	return fields, nil
}

// guessName takes the first short line that is not contact data. Resume
// layouts almost always lead with the candidate name.
func guessName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 60 || emailRe.MatchString(line) || phoneRe.MatchString(line) {
			return ""
		}
		return line
	}
	return ""
}

func splitSections(text string, out map[string]string) {
	lines := strings.Split(text, "\n")
	current := ""
	var buf []string

	flush := func() {
		if current == "" {
			return
		}
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			out[current] = body
		}
	}

	for _, line := range lines {
		if heading := matchHeading(line); heading != "" {
			flush()
			current = heading
			buf = buf[:0]
			continue
		}
		if current != "" {
			buf = append(buf, line)
		}
	}
	flush()
}

// matchHeading reports the canonical heading when a line is nothing but a
// known section title, allowing trailing colons and any casing.
func matchHeading(line string) string {
	candidate := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ":")))
	for _, h := range sectionHeadings {
		if candidate == h {
			return h
		}
	}
	return ""
}

func splitSkills(body string) []string {
	seps := func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n' || r == '•' || r == '·'
	}
	var skills []string
	for _, s := range strings.FieldsFunc(body, seps) {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}
	return skills
}

func firstOf(sections map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := sections[k]; ok {
			return v, true
		}
	}
	return "", false
}
