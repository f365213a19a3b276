package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/portfolio-builder/internal/ai"
	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/queue"
	"github.com/iliyamo/portfolio-builder/internal/repository"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []ai.Prompt
	fail    error
}

func (g *scriptedGenerator) Generate(_ context.Context, p ai.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.fail != nil {
		return "", g.fail
	}
	switch {
	case p.JSON:
		return "```json\n{\"Backend\":[\"Go\",\"MySQL\"],\"Frontend\":[\"React\"]}\n```", nil
	case strings.Contains(p.Text, "headline"):
		return `"Backend engineer building reliable services"`, nil
	case strings.Contains(p.Text, "Technologies"):
		return "A project description.", nil
	default:
		return "About me text.", nil
	}
}

type memStore struct {
	saved     []model.Portfolio
	published bool
}

func (m *memStore) Upsert(_ context.Context, p model.Portfolio) (uint64, error) {
	m.saved = append(m.saved, p)
	return 42, nil
}

func (m *memStore) GetByUser(_ context.Context, userID uint64) (model.Portfolio, error) {
	for _, p := range m.saved {
		if p.UserID == userID {
			return p, nil
		}
	}
	return model.Portfolio{}, repository.ErrNotFound
}

func (m *memStore) TogglePublished(context.Context, uint64) (bool, error) {
	m.published = !m.published
	return m.published, nil
}

func (m *memStore) GetPublished(context.Context, uint64) (repository.PublicPortfolio, error) {
	return repository.PublicPortfolio{}, repository.ErrNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.GenerationCompletedEvent
	err    error
}

func (r *recordingPublisher) PublishGenerationCompleted(_ context.Context, ev queue.GenerationCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func newService(gen ai.Generator, store PortfolioStore, pub EventPublisher) *PortfolioService {
	return NewPortfolioService(gen, store, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateAbout(t *testing.T) {
	gen := &scriptedGenerator{}
	pub := &recordingPublisher{}
	svc := newService(gen, &memStore{}, pub)

	years := 5
	text, err := svc.GenerateAbout(context.Background(), 7, AboutInput{Name: "Alice", Skills: []string{"Go", " "}, ExperienceYears: &years, Industry: "fintech"})
	require.NoError(t, err)
	assert.Equal(t, "About me text.", text)
	svc.Close()

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0].Text, "- Skills: Go\n")
	assert.Contains(t, gen.prompts[0].Text, "5 years")
	assert.Contains(t, gen.prompts[0].Text, "fintech")

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.KindAbout, pub.events[0].Kind)
	assert.Equal(t, queue.StatusSucceeded, pub.events[0].Status)
	assert.Equal(t, uint64(7), pub.events[0].UserID)
}

func TestGenerate_Validation(t *testing.T) {
	svc := newService(&scriptedGenerator{}, &memStore{}, nil)
	ctx := context.Background()
	bad := 60

	_, err := svc.GenerateAbout(ctx, 1, AboutInput{Skills: []string{"Go"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateAbout(ctx, 1, AboutInput{Name: "A"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateAbout(ctx, 1, AboutInput{Name: "A", Skills: []string{"Go"}, ExperienceYears: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateProject(ctx, 1, ProjectInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateProject(ctx, 1, ProjectInput{Name: "x", BriefDescription: strings.Repeat("a", 501)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.StructureSkills(ctx, 1, []string{"", "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStructureSkills(t *testing.T) {
	gen := &scriptedGenerator{}
	svc := newService(gen, &memStore{}, nil)

	out, err := svc.StructureSkills(context.Background(), 1, []string{"React", "Go", "MySQL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "MySQL"}, out["Backend"])
	assert.True(t, gen.prompts[0].JSON)
	assert.Contains(t, gen.prompts[0].Text, "Go, MySQL, React")
}

type textGenerator string

func (g textGenerator) Generate(context.Context, ai.Prompt) (string, error) { return string(g), nil }

func TestStructureSkills_BadJSON(t *testing.T) {
	svc := newService(textGenerator("not json"), &memStore{}, nil)
	_, err := svc.StructureSkills(context.Background(), 1, []string{"Go"})
	assert.ErrorIs(t, err, ErrBadGeneration)
}

func TestGenerateFull(t *testing.T) {
	gen := &scriptedGenerator{}
	store := &memStore{}
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newService(gen, store, pub)

	res, err := svc.GenerateFull(context.Background(), 7, FullInput{
		AboutInput: AboutInput{Name: "Alice", Skills: []string{"Go", "React"}},
		Projects: []ProjectInput{
			{Name: "seatmap", Technologies: []string{"Go"}, GithubURL: "https://example.com/seatmap"},
			{Name: ""},
		},
	})
	require.NoError(t, err, "publish failures never fail the request")
	svc.Close()

	assert.Equal(t, uint64(42), res.PortfolioID)
	assert.Equal(t, "About me text.", res.About)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, "A project description.", res.Projects[0].Description)
	assert.Equal(t, []string{"React"}, res.Skills["Frontend"])

	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, "Backend engineer building reliable services", saved.Headline)
	var projects []GeneratedProject
	require.NoError(t, json.Unmarshal(saved.Projects, &projects))
	assert.Equal(t, "https://example.com/seatmap", projects[0].GithubURL)
	assert.JSONEq(t, `{"Backend":["Go","MySQL"],"Frontend":["React"]}`, string(saved.Skills))

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.KindFull, pub.events[0].Kind)
	assert.Equal(t, uint64(42), pub.events[0].PortfolioID)
}

func TestGenerateFull_FailureReportedNotStored(t *testing.T) {
	gen := &scriptedGenerator{fail: errors.New("quota exceeded")}
	store := &memStore{}
	pub := &recordingPublisher{}
	svc := newService(gen, store, pub)

	_, err := svc.GenerateFull(context.Background(), 7, FullInput{AboutInput: AboutInput{Name: "A", Skills: []string{"Go"}}})
	require.Error(t, err)
	svc.Close()

	assert.Empty(t, store.saved)
	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.StatusFailed, pub.events[0].Status)
	assert.Contains(t, pub.events[0].Error, "quota exceeded")
}

func TestTogglePublishAndMine(t *testing.T) {
	store := &memStore{}
	svc := newService(&scriptedGenerator{}, store, nil)

	_, err := svc.Mine(context.Background(), 7)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	on, err := svc.TogglePublish(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, on)
	off, err := svc.TogglePublish(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, off)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}
