package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
)

// Memory is an in-memory Store used by tests and single-node deployments.
// All methods are safe for concurrent use; versioned records honor the same
// CAS semantics as the PostgreSQL implementation.
type Memory struct {
	mu sync.RWMutex

	tracks     map[string][]messages.PositionSample // vesselID -> samples, oldest first
	vessels    map[string]messages.Vessel
	alerts     map[string]*messages.DarkAlert // alertID -> alert
	signals    map[string]*messages.SpoofSignal
	clusters   map[string]*messages.SpoofCluster
	sarDets    map[string]*messages.SarDetection
	lights     []messages.NightLightAnomaly
	acoustics  map[string]*messages.AcousticEvent
	fusions    map[string][]messages.FusionResult // vesselID -> results, newest first
	risks      map[string][]messages.RiskScore
	routes     map[string][]messages.RoutePrediction
	maxHistory int
}

// NewMemory creates an empty in-memory store. Per-vessel history is trimmed
// to maxHistory samples (0 = unbounded).
func NewMemory(maxHistory int) *Memory {
	return &Memory{
		tracks:     make(map[string][]messages.PositionSample),
		vessels:    make(map[string]messages.Vessel),
		alerts:     make(map[string]*messages.DarkAlert),
		signals:    make(map[string]*messages.SpoofSignal),
		clusters:   make(map[string]*messages.SpoofCluster),
		sarDets:    make(map[string]*messages.SarDetection),
		acoustics:  make(map[string]*messages.AcousticEvent),
		fusions:    make(map[string][]messages.FusionResult),
		risks:      make(map[string][]messages.RiskScore),
		routes:     make(map[string][]messages.RoutePrediction),
		maxHistory: maxHistory,
	}
}

func (m *Memory) UpsertPosition(ctx context.Context, sample messages.PositionSample) (*messages.VesselTrack, error) {
	if err := sample.Position.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.tracks[sample.VesselID]
	// Common case: append in order. Out-of-order arrivals are inserted so
	// history stays monotonic by timestamp.
	if n := len(samples); n == 0 || !sample.Timestamp.Before(samples[n-1].Timestamp) {
		samples = append(samples, sample)
	} else {
		i := sort.Search(len(samples), func(i int) bool {
			return samples[i].Timestamp.After(sample.Timestamp)
		})
		samples = append(samples, messages.PositionSample{})
		copy(samples[i+1:], samples[i:])
		samples[i] = sample
	}
	if m.maxHistory > 0 && len(samples) > m.maxHistory {
		samples = samples[len(samples)-m.maxHistory:]
	}
	m.tracks[sample.VesselID] = samples

	track := &messages.VesselTrack{
		VesselID: sample.VesselID,
		Latest:   samples[len(samples)-1],
		History:  append([]messages.PositionSample(nil), samples...),
	}
	return track, nil
}

func (m *Memory) Latest(ctx context.Context, vesselID string) (*messages.PositionSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.tracks[vesselID]
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	s := samples[len(samples)-1]
	return &s, nil
}

func (m *Memory) LatestAll(ctx context.Context, limit int) ([]messages.PositionSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]messages.PositionSample, 0, len(m.tracks))
	for _, samples := range m.tracks {
		out = append(out, samples[len(samples)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VesselID < out[j].VesselID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) History(ctx context.Context, vesselID string, since time.Time) ([]messages.PositionSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.PositionSample
	for _, s := range m.tracks[vesselID] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) GetVessel(ctx context.Context, vesselID string) (*messages.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vessels[vesselID]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *Memory) UpsertVessel(ctx context.Context, v messages.Vessel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vessels[v.VesselID] = v
	return nil
}

func (m *Memory) ActiveAlert(ctx context.Context, vesselID string) (*messages.DarkAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.VesselID == vesselID && a.Status == messages.AlertActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateAlert(ctx context.Context, alert *messages.DarkAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.VesselID == alert.VesselID && a.Status == messages.AlertActive {
			return ErrDuplicateActive
		}
	}
	alert.Version = 1
	cp := *alert
	m.alerts[alert.AlertID] = &cp
	return nil
}

func (m *Memory) UpdateAlert(ctx context.Context, alert *messages.DarkAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.alerts[alert.AlertID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != alert.Version {
		return ErrVersionConflict
	}
	alert.Version++
	cp := *alert
	m.alerts[alert.AlertID] = &cp
	return nil
}

func (m *Memory) ListAlerts(ctx context.Context, f AlertFilter) ([]messages.DarkAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.DarkAlert
	for _, a := range m.alerts {
		if f.VesselID != "" && a.VesselID != f.VesselID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Since != nil && a.DetectedAt.Before(*f.Since) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) InsertSignal(ctx context.Context, sig *messages.SpoofSignal) error {
	if err := sig.Position.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sig
	m.signals[sig.SignalID] = &cp
	return nil
}

func (m *Memory) ListSignals(ctx context.Context, f SignalFilter) ([]messages.SpoofSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.SpoofSignal
	for _, s := range m.signals {
		if f.VesselID != "" && s.VesselID != f.VesselID {
			continue
		}
		if f.Type != "" && s.Type != f.Type {
			continue
		}
		if f.Since != nil && s.DetectedAt.Before(*f.Since) {
			continue
		}
		if f.Unclustered && s.ClusterID != "" {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) AssignCluster(ctx context.Context, signalIDs []string, clusterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range signalIDs {
		if s, ok := m.signals[id]; ok {
			s.ClusterID = clusterID
		}
	}
	return nil
}

func (m *Memory) GetCluster(ctx context.Context, clusterID string) (*messages.SpoofCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clusters[clusterID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) CreateCluster(ctx context.Context, c *messages.SpoofCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.Version = 1
	cp := *c
	m.clusters[c.ClusterID] = &cp
	return nil
}

func (m *Memory) UpdateCluster(ctx context.Context, c *messages.SpoofCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.clusters[c.ClusterID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return ErrVersionConflict
	}
	c.Version++
	cp := *c
	m.clusters[c.ClusterID] = &cp
	return nil
}

func (m *Memory) ListClusters(ctx context.Context, f ClusterFilter) ([]messages.SpoofCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.SpoofCluster
	for _, c := range m.clusters {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Since != nil && c.WindowEnd.Before(*f.Since) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) InsertSarDetection(ctx context.Context, d *messages.SarDetection) error {
	if err := d.Position.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	if cp.Match == nil {
		cp.Match = messages.Unmatched{}
	}
	m.sarDets[d.DetectionID] = &cp
	return nil
}

func (m *Memory) ListSarDetections(ctx context.Context, f DetectionFilter) ([]messages.SarDetection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.SarDetection
	for _, d := range m.sarDets {
		if f.SceneID != "" && d.SceneID != f.SceneID {
			continue
		}
		if f.UnmatchedOnly && d.IsMatched() {
			continue
		}
		if f.Since != nil && d.ObservedAt.Before(*f.Since) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectionID < out[j].DetectionID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SetSarMatch(ctx context.Context, detectionID string, match messages.MatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.sarDets[detectionID]
	if !ok {
		return ErrNotFound
	}
	d.Match = match
	return nil
}

func (m *Memory) InsertNightLight(ctx context.Context, a *messages.NightLightAnomaly) error {
	if err := a.Position.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lights = append(m.lights, *a)
	return nil
}

func (m *Memory) NightLightsNear(ctx context.Context, p geo.Point, radiusNM float64, since time.Time) ([]messages.NightLightAnomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.NightLightAnomaly
	for _, a := range m.lights {
		if a.ObservedAt.Before(since) {
			continue
		}
		if geo.DistanceNM(p, a.Position) <= radiusNM {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) InsertAcousticEvent(ctx context.Context, e *messages.AcousticEvent) error {
	if err := e.Position.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if cp.Match == nil {
		cp.Match = messages.Unmatched{}
	}
	m.acoustics[e.EventID] = &cp
	return nil
}

func (m *Memory) ListAcousticEvents(ctx context.Context, vesselID string, since time.Time) ([]messages.AcousticEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messages.AcousticEvent
	for _, e := range m.acoustics {
		if e.EventTime.Before(since) {
			continue
		}
		if vesselID != "" {
			match, ok := e.Match.(messages.Matched)
			if !ok || match.VesselID != vesselID {
				continue
			}
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (m *Memory) SetAcousticMatch(ctx context.Context, eventID string, match messages.MatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.acoustics[eventID]
	if !ok {
		return ErrNotFound
	}
	e.Match = match
	return nil
}

func (m *Memory) InsertFusionResult(ctx context.Context, r *messages.FusionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fusions[r.VesselID] = append([]messages.FusionResult{*r}, m.fusions[r.VesselID]...)
	return nil
}

func (m *Memory) ListFusionResults(ctx context.Context, vesselID string, limit int) ([]messages.FusionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]messages.FusionResult(nil), m.fusions[vesselID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertRiskScore(ctx context.Context, s *messages.RiskScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risks[s.VesselID] = append([]messages.RiskScore{*s}, m.risks[s.VesselID]...)
	return nil
}

func (m *Memory) LatestRiskScore(ctx context.Context, vesselID string) (*messages.RiskScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := m.risks[vesselID]
	if len(scores) == 0 {
		return nil, ErrNotFound
	}
	s := scores[0]
	return &s, nil
}

func (m *Memory) InsertRoutePrediction(ctx context.Context, p *messages.RoutePrediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[p.VesselID] = append([]messages.RoutePrediction{*p}, m.routes[p.VesselID]...)
	return nil
}

func (m *Memory) ListRoutePredictions(ctx context.Context, vesselID string, limit int) ([]messages.RoutePrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]messages.RoutePrediction(nil), m.routes[vesselID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
