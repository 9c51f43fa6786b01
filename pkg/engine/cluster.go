package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// DefaultClusterEpsilonNM is the single-linkage merge distance.
	DefaultClusterEpsilonNM = 5.0
	// DefaultClusterWindow is the sliding window signals must fall inside.
	DefaultClusterWindow = 24 * time.Hour
	// DefaultMinClusterSize suppresses singletons from visible output.
	DefaultMinClusterSize = 2
)

// ClusterConfig tunes the spatiotemporal clusterer.
type ClusterConfig struct {
	EpsilonNM float64
	Window    time.Duration
	MinSize   int
	// MaxSignalsPerPass bounds one pass (0 = no cap).
	MaxSignalsPerPass int
}

// DefaultClusterConfig returns the production defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		EpsilonNM: DefaultClusterEpsilonNM,
		Window:    DefaultClusterWindow,
		MinSize:   DefaultMinClusterSize,
	}
}

// Clusterer groups spoof signals inside a sliding window by single-linkage
// spatial chaining: two signals join the same cluster when they are within
// epsilon of each other, directly or through intermediate signals. This is
// deterministic union-find grouping, not density-based clustering; there is
// no noise class and no minimum-neighborhood parameter.
type Clusterer struct {
	store  store.Store
	pub    Publisher
	logger zerolog.Logger
	cfg    ClusterConfig
	now    func() time.Time
}

// NewClusterer creates a clusterer over the given store.
func NewClusterer(s store.Store, pub Publisher, logger zerolog.Logger, cfg ClusterConfig) *Clusterer {
	if cfg.EpsilonNM <= 0 {
		cfg.EpsilonNM = DefaultClusterEpsilonNM
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultClusterWindow
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinClusterSize
	}
	return &Clusterer{
		store:  s,
		pub:    pub,
		logger: logger.With().Str("component", "clusterer").Logger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// ClusterPassResult summarizes one clustering pass.
type ClusterPassResult struct {
	Signals int
	Created int
	Updated int
	Expired int
}

// Run executes one full clustering pass: group windowed signals, create or
// update clusters for every qualifying component, then expire active
// clusters whose window has closed with no new members.
func (c *Clusterer) Run(ctx context.Context) (ClusterPassResult, error) {
	var res ClusterPassResult
	now := c.now()
	since := now.Add(-c.cfg.Window)

	signals, err := c.store.ListSignals(ctx, store.SignalFilter{
		Since: &since,
		Limit: c.cfg.MaxSignalsPerPass,
	})
	if err != nil {
		return res, fmt.Errorf("cluster pass: list signals: %w", err)
	}
	res.Signals = len(signals)

	for _, group := range c.link(signals) {
		if len(group) < c.cfg.MinSize {
			continue
		}
		created, err := c.applyGroup(ctx, group, now)
		if err != nil {
			c.logger.Error().Err(err).Int("signals", len(group)).Msg("Cluster apply failed")
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	expired, err := c.expire(ctx, now)
	if err != nil {
		c.logger.Error().Err(err).Msg("Cluster expiry failed")
	}
	res.Expired = expired

	if res.Created > 0 || res.Updated > 0 || res.Expired > 0 {
		c.logger.Info().
			Int("signals", res.Signals).
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("expired", res.Expired).
			Msg("Cluster pass complete")
	}
	return res, nil
}

// link partitions signals into single-linkage components via union-find.
// Output order is deterministic: components sorted by earliest member.
func (c *Clusterer) link(signals []messages.SpoofSignal) [][]messages.SpoofSignal {
	n := len(signals)
	if n == 0 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		if !signals[i].Position.Valid() {
			continue
		}
		for j := i + 1; j < n; j++ {
			if !signals[j].Position.Valid() {
				continue
			}
			if geo.DistanceNM(signals[i].Position, signals[j].Position) <= c.cfg.EpsilonNM {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]messages.SpoofSignal)
	for i, sig := range signals {
		root := find(i)
		byRoot[root] = append(byRoot[root], sig)
	}

	groups := make([][]messages.SpoofSignal, 0, len(byRoot))
	for _, group := range byRoot {
		sort.Slice(group, func(i, j int) bool {
			if group[i].DetectedAt.Equal(group[j].DetectedAt) {
				return group[i].SignalID < group[j].SignalID
			}
			return group[i].DetectedAt.Before(group[j].DetectedAt)
		})
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0].DetectedAt.Before(groups[j][0].DetectedAt)
	})
	return groups
}

// applyGroup creates or updates the cluster backing one linked component.
// If any member already belongs to a cluster that cluster is reused, so a
// growing component keeps its identity across passes. When chaining joins
// members of several prior clusters, the earliest member's cluster absorbs
// the component and the superseded clusters are resolved.
func (c *Clusterer) applyGroup(ctx context.Context, group []messages.SpoofSignal, now time.Time) (created bool, err error) {
	clusterID := ""
	var absorbed []string
	seen := make(map[string]struct{})
	for _, sig := range group {
		if sig.ClusterID == "" {
			continue
		}
		if _, ok := seen[sig.ClusterID]; ok {
			continue
		}
		seen[sig.ClusterID] = struct{}{}
		if clusterID == "" {
			clusterID = sig.ClusterID
		} else {
			absorbed = append(absorbed, sig.ClusterID)
		}
	}

	points := make([]geo.Point, 0, len(group))
	typeSet := make(map[messages.AnomalyType]struct{})
	windowStart, windowEnd := group[0].DetectedAt, group[0].DetectedAt
	for _, sig := range group {
		points = append(points, sig.Position)
		typeSet[sig.Type] = struct{}{}
		if sig.DetectedAt.Before(windowStart) {
			windowStart = sig.DetectedAt
		}
		if sig.DetectedAt.After(windowEnd) {
			windowEnd = sig.DetectedAt
		}
	}
	types := make([]messages.AnomalyType, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	centroid := geo.Centroid(points)
	radius := geo.MaxDistanceNM(centroid, points)

	var cluster *messages.SpoofCluster
	if clusterID == "" {
		cluster = &messages.SpoofCluster{
			Envelope:     messages.NewEnvelope("engine", "engine"),
			ClusterID:    uuid.New().String(),
			SignalCount:  len(group),
			Centroid:     centroid,
			RadiusNM:     radius,
			WindowStart:  windowStart,
			WindowEnd:    windowEnd,
			AnomalyTypes: types,
			Status:       messages.AlertActive,
			CreatedAt:    now,
		}
		if err := c.store.CreateCluster(ctx, cluster); err != nil {
			return false, err
		}
		created = true
	} else {
		cluster, err = c.store.GetCluster(ctx, clusterID)
		if err != nil {
			return false, err
		}
		unchanged := len(absorbed) == 0 &&
			cluster.SignalCount == len(group) &&
			cluster.WindowEnd.Equal(windowEnd) &&
			cluster.Status == messages.AlertActive
		if unchanged {
			return false, c.assign(ctx, group, cluster.ClusterID)
		}
		cluster.SignalCount = len(group)
		cluster.Centroid = centroid
		cluster.RadiusNM = radius
		cluster.WindowStart = windowStart
		cluster.WindowEnd = windowEnd
		cluster.AnomalyTypes = types
		cluster.Status = messages.AlertActive
		if err := c.updateCAS(ctx, cluster); err != nil {
			return false, err
		}
	}

	if err := c.assign(ctx, group, cluster.ClusterID); err != nil {
		return created, err
	}

	for _, id := range absorbed {
		c.resolveAbsorbed(ctx, id, cluster.ClusterID)
	}

	if c.pub != nil {
		if err := c.pub.Publish(ctx, cluster); err != nil {
			c.logger.Error().Err(err).Str("cluster_id", cluster.ClusterID).Msg("Cluster publish failed")
		}
	}
	c.logger.Info().
		Str("cluster_id", cluster.ClusterID).
		Int("signal_count", cluster.SignalCount).
		Float64("radius_nm", cluster.RadiusNM).
		Bool("created", created).
		Msg("Spoof cluster recomputed")
	return created, nil
}

// resolveAbsorbed closes a cluster whose members were all reassigned to a
// surviving cluster during a merge.
func (c *Clusterer) resolveAbsorbed(ctx context.Context, clusterID, survivorID string) {
	cluster, err := c.store.GetCluster(ctx, clusterID)
	if err != nil {
		c.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Absorbed cluster lookup failed")
		return
	}
	if cluster.Status != messages.AlertActive {
		return
	}
	cluster.Status = messages.AlertResolved
	if err := c.updateCAS(ctx, cluster); err != nil {
		c.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Absorbed cluster resolve failed")
		return
	}
	if c.pub != nil {
		if err := c.pub.Publish(ctx, cluster); err != nil {
			c.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("Cluster publish failed")
		}
	}
	c.logger.Info().
		Str("cluster_id", clusterID).
		Str("merged_into", survivorID).
		Msg("Spoof cluster absorbed by merge")
}

func (c *Clusterer) assign(ctx context.Context, group []messages.SpoofSignal, clusterID string) error {
	var unassigned []string
	for _, sig := range group {
		if sig.ClusterID != clusterID {
			unassigned = append(unassigned, sig.SignalID)
		}
	}
	if len(unassigned) == 0 {
		return nil
	}
	return c.store.AssignCluster(ctx, unassigned, clusterID)
}

// updateCAS retries a versioned cluster update once against a fresh read.
func (c *Clusterer) updateCAS(ctx context.Context, cluster *messages.SpoofCluster) error {
	err := c.store.UpdateCluster(ctx, cluster)
	if !errors.Is(err, store.ErrVersionConflict) {
		return err
	}

	fresh, err := c.store.GetCluster(ctx, cluster.ClusterID)
	if err != nil {
		return err
	}
	cluster.Version = fresh.Version
	return c.store.UpdateCluster(ctx, cluster)
}

// expire resolves active clusters whose window closed without new members.
func (c *Clusterer) expire(ctx context.Context, now time.Time) (int, error) {
	active, err := c.store.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertActive})
	if err != nil {
		return 0, err
	}

	expired := 0
	cutoff := now.Add(-c.cfg.Window)
	for i := range active {
		cluster := active[i]
		if !cluster.WindowEnd.Before(cutoff) {
			continue
		}
		cluster.Status = messages.AlertResolved
		if err := c.updateCAS(ctx, &cluster); err != nil {
			c.logger.Error().Err(err).Str("cluster_id", cluster.ClusterID).Msg("Cluster expire failed")
			continue
		}
		if c.pub != nil {
			if err := c.pub.Publish(ctx, &cluster); err != nil {
				c.logger.Error().Err(err).Str("cluster_id", cluster.ClusterID).Msg("Cluster publish failed")
			}
		}
		expired++
	}
	return expired, nil
}
