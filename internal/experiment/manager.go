package experiment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

var ErrSessionNotFound = errors.New("session not found")

// CatalogSource returns the catalog new sessions draw from.
type CatalogSource func() (*stimulus.Catalog, error)

// AssetResolver reports which stimulus assets exist.
type AssetResolver interface {
	ImageExists(ref string) bool
	ChartExists(id int) bool
}

type ManagerOptions struct {
	Catalog  CatalogSource
	Assigner *Assigner
	Timing   Timing
	Clock    Clock
	Exporter *Exporter
	Assets   AssetResolver
}

// Manager is the registry of live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	catalog  CatalogSource
	assigner *Assigner
	timing   Timing
	clock    Clock
	exporter *Exporter
	assets   AssetResolver
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		catalog:  opts.Catalog,
		assigner: opts.Assigner,
		timing:   opts.Timing,
		clock:    opts.Clock,
		exporter: opts.Exporter,
		assets:   opts.Assets,
	}
	if m.assigner == nil {
		m.assigner = NewAssigner(nil)
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	return m
}

// Start assigns a variation and group, filters the catalog and registers a
// new session. groupOverride may be empty.
func (m *Manager) Start(ctx context.Context, groupOverride string) (*Session, error) {
	if m.catalog == nil {
		return nil, errors.New("no stimulus catalog configured")
	}
	cat, err := m.catalog()
	if err != nil {
		return nil, err
	}
	variation := m.assigner.AssignVariation("")
	rows, err := cat.FilterByVariation(string(variation))
	if err != nil {
		log.Error().Err(err).Str("variation", string(variation)).Msg("cannot start session")
		return nil, err
	}
	group := m.assigner.AssignGroup(groupOverride)

	s, err := NewSession(uuid.NewString(), variation, group, rows, m.timing, m.clock)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.logEvent("assigned_variation", map[string]any{"variation": string(variation), "stimuli": len(rows)})
	extra := map[string]any{"group": string(group)}
	if groupOverride != "" {
		extra["override"] = groupOverride
	}
	s.logEvent("assigned_group", extra)
	s.mu.Unlock()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Info().Str("session", s.ID).Str("variation", string(variation)).Str("group", string(group)).Int("stimuli", len(rows)).Msg("session started")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[id]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Tick evaluates the timed stage of a session and returns its view.
func (m *Manager) Tick(ctx context.Context, id string) (View, error) {
	s, err := m.Get(id)
	if err != nil {
		return View{}, err
	}
	if s.Tick() {
		log.Debug().Str("session", id).Msg("stage timed out")
	}
	return m.View(ctx, s), nil
}

// Submit applies a participant action and returns the new view.
func (m *Manager) Submit(ctx context.Context, id string, a Action) (View, error) {
	s, err := m.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := s.Submit(a); err != nil {
		return View{}, err
	}
	return m.View(ctx, s), nil
}

// View renders s, resolving its visual and exporting it once it has
// reached the end.
func (m *Manager) View(ctx context.Context, s *Session) View {
	if s.claimExport() {
		m.export(ctx, s)
	}
	v := s.View()
	if v.ShowStimulus && v.Stimulus != nil {
		m.resolveVisual(s, &v)
	}
	return v
}

func (m *Manager) resolveVisual(s *Session, v *View) {
	st := v.Stimulus
	if m.assets == nil {
		return
	}
	if st.ImageRef != "" && m.assets.ImageExists(st.ImageRef) {
		v.Visual = &Visual{Kind: "image", Ref: st.ImageRef}
		return
	}
	if st.ChartDataKey != nil && m.assets.ChartExists(*st.ChartDataKey) {
		v.Visual = &Visual{Kind: "chart", ChartID: *st.ChartDataKey}
		return
	}
	v.Notice = NotFoundNotice
	kind, ref := "image", st.ImageRef
	if ref == "" {
		kind, ref = "chart", st.ChartNumber
	}
	s.NoteMissingAsset(kind, ref)
}

func (m *Manager) export(ctx context.Context, s *Session) {
	if m.exporter == nil {
		s.setExportResult(Handles{}, nil)
		return
	}
	snap := s.Snapshot()
	h, err := m.exporter.Export(ctx, snap)
	if err != nil {
		log.Error().Err(err).Str("session", s.ID).Msg("export failed")
	} else {
		log.Info().Str("session", s.ID).Str("results", h.Results).Str("log", h.Log).Int("responses", len(snap.Responses)).Msg("session exported")
	}
	s.setExportResult(h, err)
}

// Prune drops completed sessions created before cutoff and returns how many
// were removed.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) && s.Completed() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
