package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/upnest/growthsync/convergence"
	"github.com/upnest/growthsync/internal/growthapi"
)

// Option configures a [Server].
type Option func(*Server)

// WithDelay sets how long after a write the recompute job runs.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithStagger spreads a full recompute over time: the i-th record of a baby
// is recomputed at delay + i*stagger.
func WithStagger(d time.Duration) Option {
	return func(s *Server) { s.stagger = d }
}

// WithEchoPercentiles makes write responses carry the percentiles the
// recompute job will persist.
func WithEchoPercentiles(echo bool) Option {
	return func(s *Server) { s.echo = echo }
}

// WithFailingReads makes the next n GET requests fail with 503.
func WithFailingReads(n int) Option {
	return func(s *Server) { s.failReads = n }
}

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithClock sets the clock used for version stamps and recompute timers.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Server is a fake growth API. It implements http.Handler.
type Server struct {
	delay     time.Duration
	stagger   time.Duration
	echo      bool
	token     string
	clock     clockwork.Clock
	logger    *slog.Logger
	mux       *http.ServeMux
	recompute chan struct{}

	mu           sync.Mutex
	failReads    int
	babies       map[string]growthapi.Baby
	measurements map[string]growthapi.Measurement
	lastVersion  time.Time
	timers       map[string]clockwork.Timer
	reads        int
	writes       int
}

// New creates a [Server] with no data.
func New(opts ...Option) *Server {
	s := &Server{
		delay:        50 * time.Millisecond,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		babies:       make(map[string]growthapi.Baby),
		measurements: make(map[string]growthapi.Measurement),
		timers:       make(map[string]clockwork.Timer),
		recompute:    make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /growth-data/{dataId}", s.handleGetMeasurement)
	mux.HandleFunc("PUT /growth-data/{dataId}", s.handleUpdateMeasurement)
	mux.HandleFunc("GET /growth-data", s.handleListMeasurements)
	mux.HandleFunc("GET /babies/{babyId}", s.handleGetBaby)
	mux.HandleFunc("PATCH /babies/{babyId}", s.handleUpdateBaby)
	s.mux = mux
	return s
}

// AddBaby stores a baby profile. An empty BabyID is generated.
func (s *Server) AddBaby(b growthapi.Baby) growthapi.Baby {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.BabyID == "" {
		b.BabyID = uuid.NewString()
	}
	s.babies[b.BabyID] = b
	return b
}

// AddMeasurement stores a growth data record with freshly computed
// percentiles. An empty DataID is generated.
func (s *Server) AddMeasurement(m growthapi.Measurement) growthapi.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.DataID == "" {
		m.DataID = uuid.NewString()
	}
	m.Measurements = maps.Clone(m.Measurements)
	if m.Measurements == nil {
		m.Measurements = growthapi.Values{}
	}
	m.Percentiles = computePercentiles(s.babies[m.BabyID], m)
	m.UpdatedAt = s.nextVersionLocked()
	s.measurements[m.DataID] = m
	return m
}

// Measurement returns a stored record.
func (s *Server) Measurement(id string) (growthapi.Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.measurements[id]
	return m, ok
}

// Baby returns a stored profile.
func (s *Server) Baby(id string) (growthapi.Baby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.babies[id]
	return b, ok
}

// Stats returns the number of read and write requests served.
func (s *Server) Stats() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

// Recomputed receives a value every time a recompute job ran.
func (s *Server) Recomputed() <-chan struct{} {
	return s.recompute
}

// Close cancels pending recompute jobs.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	s.mu.Lock()
	if r.Method == http.MethodGet {
		s.reads++
		if s.failReads > 0 {
			s.failReads--
			s.mu.Unlock()
			writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
	} else {
		s.writes++
	}
	s.mu.Unlock()

	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled and returns the bound
// address once the listener is ready.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind to %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return ln.Addr(), nil
}

func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Measurement(r.PathValue("dataId"))
	if !ok {
		writeError(w, http.StatusNotFound, "Growth data not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": m})
}

func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	babyID := r.URL.Query().Get("babyId")

	s.mu.Lock()
	list := s.listLocked(babyID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"data": list, "count": len(list)})
}

func (s *Server) handleGetBaby(w http.ResponseWriter, r *http.Request) {
	b, ok := s.Baby(r.PathValue("babyId"))
	if !ok {
		writeError(w, http.StatusNotFound, "Baby not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"baby": b})
}

func (s *Server) handleUpdateMeasurement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataId")

	var patch growthapi.MeasurementPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	for field, v := range patch.Measurements {
		if !slices.Contains(growthapi.DerivedFields, field) {
			writeError(w, http.StatusBadRequest, "Unknown measurement "+field)
			return
		}
		if f, ok := toFloat(v); !ok || f <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid value for "+field)
			return
		}
	}

	s.mu.Lock()
	current, ok := s.measurements[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Growth data not found")
		return
	}

	recalc := len(patch.ExpectedFields(current)) > 0
	next := current
	next.Measurements = maps.Clone(current.Measurements)
	if next.Measurements == nil {
		next.Measurements = growthapi.Values{}
	}
	maps.Copy(next.Measurements, patch.Measurements)
	if patch.MeasurementDate != nil {
		next.MeasurementDate = *patch.MeasurementDate
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	s.measurements[id] = next

	resp := growthapi.MeasurementUpdate{Data: next, Recalculation: growthapi.RecalculationNone}
	if recalc {
		resp.Recalculation = growthapi.RecalculationPending
		// percentiles are only reported once computed
		resp.Data.Percentiles = nil
		if s.echo {
			resp.Data.Percentiles = computePercentiles(s.babies[next.BabyID], next)
		}
		s.scheduleLocked(s.delay, id)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateBaby(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("babyId")

	var patch growthapi.BabyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if patch.Gender != nil {
		if _, ok := curves[*patch.Gender]; !ok {
			writeError(w, http.StatusBadRequest, "Invalid gender")
			return
		}
	}
	if patch.DateOfBirth != nil {
		if _, err := time.Parse(dateLayout, *patch.DateOfBirth); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dateOfBirth")
			return
		}
	}

	s.mu.Lock()
	current, ok := s.babies[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Baby not found")
		return
	}

	mode := patch.PredictedMode(current)
	next := applyBabyPatch(current, patch)
	s.babies[id] = next

	resp := growthapi.BabyUpdate{Baby: next, Mode: mode}
	switch mode {
	case growthapi.ModeFull:
		for i, m := range s.listLocked(id) {
			// the birth record follows the date of birth
			if patch.DateOfBirth != nil && m.DataID == next.BirthDataID {
				m.MeasurementDate = next.DateOfBirth
			}
			// stripped percentiles are always rewritten by the recompute job
			m.Percentiles = nil
			s.measurements[m.DataID] = m
			if s.echo {
				m.Percentiles = computePercentiles(next, m)
				resp.Measurements = append(resp.Measurements, m)
			}
			s.scheduleLocked(s.delay+time.Duration(i)*s.stagger, m.DataID)
		}
	case growthapi.ModeBirthOnly:
		birth, ok := s.measurements[next.BirthDataID]
		if !ok {
			resp.Mode = growthapi.ModeNone
			break
		}
		birth.Measurements = birthValues(next, birth.Measurements)
		birth.Percentiles = nil
		s.measurements[birth.DataID] = birth
		if s.echo {
			birth.Percentiles = computePercentiles(next, birth)
			resp.Measurements = []growthapi.Measurement{birth}
		}
		s.scheduleLocked(s.delay, birth.DataID)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// scheduleLocked arms a recompute job for one record, replacing a pending
// job for the same record. Must be called with s.mu held.
func (s *Server) scheduleLocked(d time.Duration, dataID string) {
	if prev, ok := s.timers[dataID]; ok {
		prev.Stop()
	}
	var t clockwork.Timer
	t = s.clock.AfterFunc(d, func() { s.recomputeRecord(dataID, &t) })
	s.timers[dataID] = t
}

// Pending returns the number of armed recompute jobs.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Server) recomputeRecord(dataID string, t *clockwork.Timer) {
	s.mu.Lock()
	if s.timers[dataID] == *t {
		delete(s.timers, dataID)
	}
	m, ok := s.measurements[dataID]
	if ok {
		pct := computePercentiles(s.babies[m.BabyID], m)
		// the version marker only moves when rounded percentiles change
		if !samePercentiles(pct, m.Percentiles) {
			m.Percentiles = pct
			m.UpdatedAt = s.nextVersionLocked()
			s.measurements[dataID] = m
			s.logger.Debug("percentiles recomputed", "data_id", dataID, "updated_at", m.UpdatedAt)
		}
	}
	s.mu.Unlock()

	select {
	case s.recompute <- struct{}{}:
	default:
	}
}

// nextVersionLocked returns a strictly increasing version stamp.
func (s *Server) nextVersionLocked() string {
	now := s.clock.Now().UTC()
	if !now.After(s.lastVersion) {
		now = s.lastVersion.Add(time.Microsecond)
	}
	s.lastVersion = now
	return now.Format(time.RFC3339Nano)
}

func (s *Server) listLocked(babyID string) []growthapi.Measurement {
	list := make([]growthapi.Measurement, 0)
	for _, m := range s.measurements {
		if babyID == "" || m.BabyID == babyID {
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].MeasurementDate != list[j].MeasurementDate {
			return list[i].MeasurementDate < list[j].MeasurementDate
		}
		return list[i].DataID < list[j].DataID
	})
	return list
}

func applyBabyPatch(b growthapi.Baby, p growthapi.BabyPatch) growthapi.Baby {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.DateOfBirth != nil {
		b.DateOfBirth = *p.DateOfBirth
	}
	if p.Gender != nil {
		b.Gender = *p.Gender
	}
	if p.BirthWeight != nil {
		b.BirthWeight = p.BirthWeight
	}
	if p.BirthHeight != nil {
		b.BirthHeight = p.BirthHeight
	}
	if p.HeadCircumference != nil {
		b.HeadCircumference = p.HeadCircumference
	}
	return b
}

func birthValues(b growthapi.Baby, current growthapi.Values) growthapi.Values {
	out := maps.Clone(current)
	if out == nil {
		out = growthapi.Values{}
	}
	if b.BirthWeight != nil {
		out[growthapi.FieldWeight] = *b.BirthWeight
	}
	if b.BirthHeight != nil {
		out[growthapi.FieldHeight] = *b.BirthHeight
	}
	if b.HeadCircumference != nil {
		out[growthapi.FieldHeadCircumference] = *b.HeadCircumference
	}
	return out
}

func toFloat(v any) (float64, bool) {
	return convergence.Normalize(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
