package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// flagRiskTiers maps high-risk registries (convenience flags and
// IUU-associated states) to their risk tier. Higher is riskier. Matching
// is by substring against the vessel's declared name and destination.
var flagRiskTiers = map[string]int{
	// Tier 3 - highest risk
	"comoros":      20,
	"tanzania":     20,
	"togo":         19,
	"moldova":      19,
	"cambodia":     18,
	"mongolia":     18,
	"bolivia":      18,
	"sierra leone": 18,
	// Tier 2 - elevated risk
	"honduras":                         16,
	"belize":                           16,
	"panama":                           15,
	"saint vincent and the grenadines": 15,
	"liberia":                          14,
	"marshall islands":                 14,
	"vanuatu":                          14,
	"antigua and barbuda":              13,
	"dominica":                         13,
	"palau":                            13,
	"tuvalu":                           13,
	"kiribati":                         12,
	// Tier 1 - moderate risk
	"cook islands":          10,
	"saint kitts and nevis": 9,
	"bahamas":               8,
	"barbados":              8,
	"malta":                 7,
	"cyprus":                7,
	"cayman islands":        7,
	"bermuda":               6,
	"gibraltar":             6,
	"isle of man":           6,
}

// unknownFlagScore applies when no registry can be determined.
const unknownFlagScore = 3

// anomalyLookback bounds which spoof signals count toward the anomaly
// sub-score.
const anomalyLookback = 90 * 24 * time.Hour

// RiskScorer computes the composite 0-100 vessel risk assessment from
// identity completeness, flag-state tier, recent spoof signals, and
// dark-alert history.
type RiskScorer struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewRiskScorer creates a scorer over the given store.
func NewRiskScorer(s store.Store, logger zerolog.Logger) *RiskScorer {
	return &RiskScorer{
		store:  s,
		logger: logger.With().Str("component", "risk_scorer").Logger(),
		now:    time.Now,
	}
}

// Score computes and persists a risk score for the vessel. A vessel with
// no declared identity record is scored from an empty one; only store
// failures abort.
func (r *RiskScorer) Score(ctx context.Context, vesselID string) (*messages.RiskScore, error) {
	vessel, err := r.store.GetVessel(ctx, vesselID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("score %s: vessel lookup: %w", vesselID, err)
		}
		vessel = &messages.Vessel{VesselID: vesselID}
	}

	details := make(map[string]string)
	identity := identityScore(vessel, details)
	flag := flagRiskScore(vessel, details)

	anomaly, err := r.anomalyScore(ctx, vesselID, details)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", vesselID, err)
	}
	darkHistory, err := r.darkHistoryScore(ctx, vesselID, details)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", vesselID, err)
	}

	overall := identity + flag + anomaly + darkHistory
	if overall > 100 {
		overall = 100
	}
	if overall < 0 {
		overall = 0
	}

	score := &messages.RiskScore{
		ScoreID:          uuid.New().String(),
		VesselID:         vesselID,
		IdentityScore:    identity,
		FlagRiskScore:    flag,
		AnomalyScore:     anomaly,
		DarkHistoryScore: darkHistory,
		Overall:          overall,
		Level:            messages.LevelForScore(overall),
		Details:          details,
		ScoredAt:         r.now(),
	}
	if err := r.store.InsertRiskScore(ctx, score); err != nil {
		return nil, fmt.Errorf("score %s: persist: %w", vesselID, err)
	}

	r.logger.Info().
		Str("vessel_id", vesselID).
		Int("overall", overall).
		Str("level", string(score.Level)).
		Msg("Risk score computed")
	return score, nil
}

// identityScore penalizes each missing identifier by 5 points, capped at 20.
func identityScore(v *messages.Vessel, details map[string]string) int {
	score := 0

	mmsiValid := len(v.VesselID) == 9 && strings.ContainsRune("2345679", rune(v.VesselID[0])) && allDigits(v.VesselID)
	if !mmsiValid {
		score += 5
	}
	details["mmsi_valid"] = strconv.FormatBool(mmsiValid)

	name := strings.TrimSpace(v.Name)
	namePresent := name != "" && !strings.EqualFold(name, "unknown")
	if !namePresent {
		score += 5
	}
	details["name_present"] = strconv.FormatBool(namePresent)

	typeKnown := v.ShipType != "" && v.ShipType != "unknown"
	if !typeKnown {
		score += 5
	}
	details["ship_type_known"] = strconv.FormatBool(typeKnown)

	imoPresent := v.IMO != "" && v.IMO != "0"
	if !imoPresent {
		score += 5
	}
	details["imo_present"] = strconv.FormatBool(imoPresent)

	if score > 20 {
		score = 20
	}
	return score
}

// flagRiskScore looks the vessel's registry up in the tier table, matching
// flag-state mentions in the declared name and destination. Undetermined
// flags get a mild default rather than zero.
func flagRiskScore(v *messages.Vessel, details map[string]string) int {
	name := strings.ToLower(strings.TrimSpace(v.Name))
	destination := strings.ToLower(strings.TrimSpace(v.Destination))

	score := 0
	matched := ""
	for flag, risk := range flagRiskTiers {
		if strings.Contains(destination, flag) || strings.Contains(name, flag) {
			if risk > score {
				score = risk
				matched = flag
			}
		}
	}

	if matched == "" {
		details["flag_detected"] = ""
		return unknownFlagScore
	}
	details["flag_detected"] = matched
	if score > 20 {
		score = 20
	}
	return score
}

// anomalyScore ladders the count of recent spoof signals: 0, 10, 18, 24,
// then +2 per extra signal, capped at 30.
func (r *RiskScorer) anomalyScore(ctx context.Context, vesselID string, details map[string]string) (int, error) {
	since := r.now().Add(-anomalyLookback)
	signals, err := r.store.ListSignals(ctx, store.SignalFilter{VesselID: vesselID, Since: &since})
	if err != nil {
		return 0, err
	}
	count := len(signals)
	details["spoof_signals_90d"] = strconv.Itoa(count)

	var score int
	switch {
	case count == 0:
		score = 0
	case count == 1:
		score = 10
	case count == 2:
		score = 18
	case count == 3:
		score = 24
	default:
		score = 24 + (count-3)*2
		if score > 30 {
			score = 30
		}
	}
	return score, nil
}

// darkHistoryScore combines a count component and a total-duration
// component, each 0-15, plus a 5 point bump for a currently active alert,
// capped at 30.
func (r *RiskScorer) darkHistoryScore(ctx context.Context, vesselID string, details map[string]string) (int, error) {
	alerts, err := r.store.ListAlerts(ctx, store.AlertFilter{VesselID: vesselID})
	if err != nil {
		return 0, err
	}

	totalGapHours := 0.0
	active := 0
	for _, a := range alerts {
		totalGapHours += a.GapHours
		if a.Status == messages.AlertActive {
			active++
		}
	}
	details["total_dark_events"] = strconv.Itoa(len(alerts))
	details["total_gap_hours"] = strconv.FormatFloat(totalGapHours, 'f', 1, 64)
	details["active_dark_alerts"] = strconv.Itoa(active)

	var countScore int
	switch {
	case len(alerts) == 0:
		countScore = 0
	case len(alerts) <= 2:
		countScore = 5
	case len(alerts) <= 5:
		countScore = 10
	default:
		countScore = 15
	}

	var durationScore int
	switch {
	case totalGapHours < 1:
		durationScore = 0
	case totalGapHours < 12:
		durationScore = 5
	case totalGapHours < 48:
		durationScore = 10
	default:
		durationScore = 15
	}

	score := countScore + durationScore
	if active > 0 {
		score += 5
	}
	if score > 30 {
		score = 30
	}
	return score, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
