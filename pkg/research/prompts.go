package research

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mikeboe/deep-research/pkg/cache"
)

const (
	planSystem = `You are a research planner. Break the research target into focused web search queries.
Each query must be specific, self-contained and different from the others.`

	learnSystem = `You are a research analyst. Condense the search results into the key learnings that serve the research goal.
Be concise and information dense. Keep exact names, numbers, dates and metrics. Do not invent facts.`

	reviewSystem = `You are a research reviewer. Judge whether the learnings gathered so far cover the research target.
If important gaps remain, propose follow-up search queries that close them.`

	reportSystem = `You are an expert analyst writing a final research report in Markdown.
Use only the learnings provided. Be thorough, structured and specific. Cite sources inline by their number, like [1].`
)

const planSchema = `Return the JSON object directly without any formatting or additional text. The JSON object must match this schema:
{
  "type": "object",
  "properties": {
    "plan": {"type": "string", "description": "Short outline of the research approach"},
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string"},
          "researchGoal": {"type": "string", "description": "What this query should find and how to use it"}
        },
        "required": ["query", "researchGoal"]
      }
    }
  },
  "required": ["plan", "tasks"]
}`

const reviewSchema = `Return the JSON object directly without any formatting or additional text. The JSON object must match this schema:
{
  "type": "object",
  "properties": {
    "sufficient": {"type": "boolean"},
    "reasoning": {"type": "string"},
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"query": {"type": "string"}, "researchGoal": {"type": "string"}},
        "required": ["query", "researchGoal"]
      }
    }
  },
  "required": ["sufficient", "tasks"]
}`

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

var templates = template.Must(template.New("research").Funcs(funcs).Parse(`
{{define "target"}}
{{- if eq .Kind "company-research"}}Company: {{.CompanyName}}
{{- if .Industry}}
Industry: {{.Industry}}{{end}}
{{- if .Competitors}}
Known competitors: {{join .Competitors ", "}}{{end}}
{{- else if eq .Kind "market-research"}}Market: {{.Market}}
{{- else if eq .Kind "bulk-company-research"}}Companies: {{join .Companies ", "}}
{{- else}}Research goal: {{.Goal}}{{end}}
{{- end}}

{{define "language"}}{{if .Language}}
Respond in the language with tag "{{.Language}}".{{end}}{{end}}

{{define "plan"}}Today is {{.Today}}.
{{template "target" .}}
{{if eq .Kind "company-research"}}
Cover the company's business model, products, leadership, financials and funding, recent news, and its competitive position.
{{- else if eq .Kind "market-research"}}
Cover market size and growth, segments, key players, trends, regulation, and risks.
{{- else if eq .Kind "bulk-company-research"}}
Give every company at least one query about its business and recent developments.
{{- end}}
Generate at most {{.MaxTasks}} search queries.
{{- if .Suggestion}}

The reader asked to steer the research this way:
{{.Suggestion}}{{end}}
{{template "language" .}}

# Response Format
{{.Schema}}{{end}}

{{define "learn"}}Query: {{.Query}}
Research goal: {{.ResearchGoal}}
{{if .Answer}}
Search engine answer:
{{.Answer}}
{{end}}
Search results:
{{range $i, $s := .Sources}}
<source index="{{inc $i}}" url="{{$s.URL}}" title="{{$s.Title}}">
{{$s.Content}}
</source>
{{end}}{{template "language" .}}{{end}}

{{define "review"}}{{template "target" .}}

Plan:
{{.Plan}}

Learnings so far:
{{range .Learnings}}
<learning query="{{.Query}}">
{{.Learning}}
</learning>
{{end}}
Queries already run: {{join .Queries "; "}}
Propose at most {{.MaxTasks}} new queries, or none if the learnings are sufficient.

# Response Format
{{.Schema}}{{end}}

{{define "report"}}Today is {{.Today}}.
{{template "target" .}}

Plan:
{{.Plan}}

Learnings:
{{range .Learnings}}
<learning query="{{.Query}}">
{{.Learning}}
</learning>
{{end}}
Sources:
{{range $i, $s := .Sources}}[{{inc $i}}] {{$s.Title}} {{$s.URL}}
{{end}}
{{- if eq .Kind "company-research"}}
Write a company profile with sections: Overview, Products and Services, Business Model, Financials, Leadership, Competitive Landscape, Recent Developments, Outlook.
{{- else if eq .Kind "market-research"}}
Write a market report with sections: Overview, Market Size and Growth, Segments, Key Players, Trends, Risks, Outlook.
{{- else if eq .Kind "bulk-company-research"}}
Write one concise profile per company followed by a comparison table.
{{- else}}
Write a comprehensive report that answers the research goal.
{{- end}}
{{template "language" .}}{{end}}
`))

type promptData struct {
	Request
	Today        string
	MaxTasks     int
	Schema       string
	Plan         string
	Learnings    []Task
	Queries      []string
	Sources      any
	Query        string
	ResearchGoal string
	Answer       string
}

func newPromptData(req Request, now time.Time) promptData {
	return promptData{Request: req, Today: now.Format("2006-01-02")}
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func joinList(items []string) string { return strings.Join(items, ", ") }

// kindLabel is used in log lines and metrics.
func kindLabel(k cache.Kind) string {
	if k == "" {
		return string(cache.KindFreeForm)
	}
	return string(k)
}
