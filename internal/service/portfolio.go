// Package service holds the portfolio generation workflow and the event
// publisher it reports to.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/portfolio-builder/internal/ai"
	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/queue"
	"github.com/iliyamo/portfolio-builder/internal/repository"
)

var (
	// ErrInvalidInput wraps every request validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBadGeneration is returned when the model's answer cannot be used.
	ErrBadGeneration = errors.New("unusable generation result")
)

// PortfolioStore is the persistence the service needs.
type PortfolioStore interface {
	Upsert(ctx context.Context, p model.Portfolio) (uint64, error)
	GetByUser(ctx context.Context, userID uint64) (model.Portfolio, error)
	TogglePublished(ctx context.Context, userID uint64) (bool, error)
	GetPublished(ctx context.Context, id uint64) (repository.PublicPortfolio, error)
}

type AboutInput struct {
	Name            string   `json:"name"`
	Skills          []string `json:"skills"`
	ExperienceYears *int     `json:"experience_years,omitempty"`
	Industry        string   `json:"industry,omitempty"`
}

type ProjectInput struct {
	Name             string   `json:"name"`
	Technologies     []string `json:"technologies"`
	BriefDescription string   `json:"brief_description,omitempty"`
	URL              string   `json:"url,omitempty"`
	GithubURL        string   `json:"github_url,omitempty"`
}

type FullInput struct {
	AboutInput
	Projects []ProjectInput `json:"projects"`
}

// GeneratedProject is one entry of the stored projects list.
type GeneratedProject struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	URL          string   `json:"url,omitempty"`
	GithubURL    string   `json:"github_url,omitempty"`
}

// FullResult is what /generate/full returns.
type FullResult struct {
	PortfolioID uint64              `json:"portfolio_id"`
	Headline    string              `json:"headline"`
	About       string              `json:"about"`
	Projects    []GeneratedProject  `json:"projects"`
	Skills      map[string][]string `json:"skills_structure,omitempty"`
}

// PortfolioService drafts portfolio content and stores it.
type PortfolioService struct {
	gen    ai.Generator
	store  PortfolioStore
	events EventPublisher
	log    *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

func NewPortfolioService(gen ai.Generator, store PortfolioStore, events EventPublisher, log *slog.Logger) *PortfolioService {
	if events == nil {
		events = NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PortfolioService{gen: gen, store: store, events: events, log: log, now: time.Now}
}

// Close waits for in-flight event publishes.
func (s *PortfolioService) Close() { s.wg.Wait() }

func (s *PortfolioService) GenerateAbout(ctx context.Context, userID uint64, in AboutInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	start := s.now()
	text, err := s.gen.Generate(ctx, aboutPrompt(in))
	s.report(userID, queue.KindAbout, 0, start, err)
	return text, err
}

func (s *PortfolioService) GenerateProject(ctx context.Context, userID uint64, in ProjectInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	start := s.now()
	text, err := s.gen.Generate(ctx, projectPrompt(in))
	s.report(userID, queue.KindProject, 0, start, err)
	return text, err
}

func (s *PortfolioService) StructureSkills(ctx context.Context, userID uint64, skills []string) (map[string][]string, error) {
	skills = cleanList(skills)
	if len(skills) == 0 {
		return nil, fmt.Errorf("%w: skills must not be empty", ErrInvalidInput)
	}
	start := s.now()
	out, err := s.structureSkills(ctx, skills)
	s.report(userID, queue.KindSkillsStructure, 0, start, err)
	return out, err
}

func (s *PortfolioService) structureSkills(ctx context.Context, skills []string) (map[string][]string, error) {
	raw, err := s.gen.Generate(ctx, skillsPrompt(skills))
	if err != nil {
		return nil, err
	}
	var out map[string][]string
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: skills structure is not a JSON object of lists: %v", ErrBadGeneration, err)
	}
	return out, nil
}

// GenerateFull drafts every section and replaces the caller's stored
// portfolio. Publication state is left alone.
func (s *PortfolioService) GenerateFull(ctx context.Context, userID uint64, in FullInput) (FullResult, error) {
	if err := in.AboutInput.validate(); err != nil {
		return FullResult{}, err
	}
	start := s.now()
	res, err := s.generateFull(ctx, userID, in)
	s.report(userID, queue.KindFull, res.PortfolioID, start, err)
	return res, err
}

func (s *PortfolioService) generateFull(ctx context.Context, userID uint64, in FullInput) (FullResult, error) {
	var res FullResult
	var err error

	if res.About, err = s.gen.Generate(ctx, aboutPrompt(in.AboutInput)); err != nil {
		return FullResult{}, fmt.Errorf("about: %w", err)
	}
	if res.Headline, err = s.gen.Generate(ctx, headlinePrompt(in.AboutInput)); err != nil {
		return FullResult{}, fmt.Errorf("headline: %w", err)
	}
	res.Projects = make([]GeneratedProject, 0, len(in.Projects))
	for _, p := range in.Projects {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		desc, err := s.gen.Generate(ctx, projectPrompt(p))
		if err != nil {
			return FullResult{}, fmt.Errorf("project %q: %w", p.Name, err)
		}
		res.Projects = append(res.Projects, GeneratedProject{
			Name:         strings.TrimSpace(p.Name),
			Description:  desc,
			Technologies: cleanList(p.Technologies),
			URL:          p.URL,
			GithubURL:    p.GithubURL,
		})
	}
	if skills := cleanList(in.Skills); len(skills) > 0 {
		if res.Skills, err = s.structureSkills(ctx, skills); err != nil {
			return FullResult{}, fmt.Errorf("skills: %w", err)
		}
	}

	projects, err := json.Marshal(res.Projects)
	if err != nil {
		return FullResult{}, err
	}
	var skillsJSON json.RawMessage
	if res.Skills != nil {
		if skillsJSON, err = json.Marshal(res.Skills); err != nil {
			return FullResult{}, err
		}
	}
	id, err := s.store.Upsert(ctx, model.Portfolio{
		UserID:   userID,
		Headline: strings.Trim(res.Headline, "\"' \n"),
		AboutMe:  res.About,
		Skills:   skillsJSON,
		Projects: projects,
	})
	if err != nil {
		return FullResult{}, fmt.Errorf("store portfolio: %w", err)
	}
	res.PortfolioID = id
	return res, nil
}

func (s *PortfolioService) Mine(ctx context.Context, userID uint64) (model.Portfolio, error) {
	return s.store.GetByUser(ctx, userID)
}

// TogglePublish flips publication and returns the new state.
func (s *PortfolioService) TogglePublish(ctx context.Context, userID uint64) (bool, error) {
	return s.store.TogglePublished(ctx, userID)
}

func (s *PortfolioService) Public(ctx context.Context, id uint64) (repository.PublicPortfolio, error) {
	return s.store.GetPublished(ctx, id)
}

// report publishes the outcome in the background. Publish failures are
// logged and never reach the caller.
func (s *PortfolioService) report(userID uint64, kind string, portfolioID uint64, start time.Time, genErr error) {
	now := s.now()
	ev := queue.GenerationCompletedEvent{
		UserID:      userID,
		Kind:        kind,
		PortfolioID: portfolioID,
		DurationMS:  now.Sub(start).Milliseconds(),
		Status:      queue.StatusSucceeded,
		CompletedAt: now.UTC(),
	}
	if genErr != nil {
		ev.Status = queue.StatusFailed
		ev.Error = genErr.Error()
		s.log.Error("generation failed", "user_id", userID, "kind", kind, "error", genErr)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.PublishGenerationCompleted(ctx, ev); err != nil {
			s.log.Warn("generation event not published", "kind", kind, "error", err)
		}
	}()
}

func (in AboutInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(cleanList(in.Skills)) == 0 {
		return fmt.Errorf("%w: at least one skill is required", ErrInvalidInput)
	}
	if in.ExperienceYears != nil && (*in.ExperienceYears < 0 || *in.ExperienceYears > 50) {
		return fmt.Errorf("%w: experience_years must be between 0 and 50", ErrInvalidInput)
	}
	return nil
}

func (in ProjectInput) validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 200 {
		return fmt.Errorf("%w: project name must be 1-200 characters", ErrInvalidInput)
	}
	if len(in.BriefDescription) > 500 {
		return fmt.Errorf("%w: brief_description must be at most 500 characters", ErrInvalidInput)
	}
	return nil
}

func aboutPrompt(in AboutInput) ai.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Details:\n- Name: %s\n- Skills: %s\n", strings.TrimSpace(in.Name), strings.Join(cleanList(in.Skills), ", "))
	if in.ExperienceYears != nil && *in.ExperienceYears > 0 {
		fmt.Fprintf(&b, "- Experience: %d years\n", *in.ExperienceYears)
	}
	if in.Industry != "" {
		fmt.Fprintf(&b, "- Industry: %s\n", in.Industry)
	}
	b.WriteString(`
Requirements:
1. Write in the first person.
2. Three to four paragraphs.
3. Professional but friendly tone.
4. Avoid cliches such as "passionate specialist".
5. Mention concrete achievements where the experience implies them.

Return only the text, without headings or formatting.`)
	return ai.Prompt{
		System: "You are a professional copywriter who writes portfolios and resumes.",
		Text:   b.String(),
	}
}

func headlinePrompt(in AboutInput) ai.Prompt {
	text := fmt.Sprintf("Write a single-line professional headline (at most 12 words) for %s, skilled in %s.",
		strings.TrimSpace(in.Name), strings.Join(cleanList(in.Skills), ", "))
	if in.Industry != "" {
		text += " Industry: " + in.Industry + "."
	}
	return ai.Prompt{
		System: "You are a professional copywriter who writes portfolios and resumes.",
		Text:   text + " Return only the headline.",
	}
}

func projectPrompt(in ProjectInput) ai.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Details:\n- Name: %s\n- Technologies: %s\n", strings.TrimSpace(in.Name), strings.Join(cleanList(in.Technologies), ", "))
	if in.BriefDescription != "" {
		fmt.Fprintf(&b, "- Brief description: %s\n", in.BriefDescription)
	}
	b.WriteString(`
Requirements:
1. Two to three paragraphs.
2. Highlight technical decisions and results.
3. Use the active voice.
4. Show the business value of the project.

Return only the description, without headings.`)
	return ai.Prompt{
		System: "You are a technical writer describing projects for developer portfolios.",
		Text:   b.String(),
	}
}

func skillsPrompt(skills []string) ai.Prompt {
	sorted := append([]string(nil), skills...)
	sort.Strings(sorted)
	return ai.Prompt{
		System: "You structure technical skills. Always answer with valid JSON only.",
		Text: "Group the following skills into logical categories.\n\nSkills: " + strings.Join(sorted, ", ") + `

Return a JSON object mapping category to a list of skills, for example:
{"Frontend": ["React"], "Backend": ["Go"], "Other": ["..."]}
Categories may be Frontend, Backend, Database, DevOps, Design, Tools, Soft Skills and so on.`,
		JSON: true,
	}
}

// cleanList trims entries and drops blanks.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
