package processing

import (
	"fmt"
	"strings"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// ValidationRule 验证规则
type ValidationRule func(match *models.Match, sub *models.Submission) error

// SubmissionValidator runs the local, synchronous checks on an operator
// submission. It performs no I/O.
type SubmissionValidator struct {
	logger common.Logger
	rules  map[models.EventKind][]ValidationRule
}

// NewSubmissionValidator 创建数据验证器
func NewSubmissionValidator(logger common.Logger) *SubmissionValidator {
	v := &SubmissionValidator{
		logger: logger,
		rules:  make(map[models.EventKind][]ValidationRule),
	}

	v.AddRule(models.EventGoal, requireStatus(models.MatchStatusLive), validateSide, validateScorer, validateAssist)
	v.AddRule(models.EventRedCard, requireStatus(models.MatchStatusLive), validateSide, validateCardedPlayer)
	v.AddRule(models.EventSubstitution, requireStatus(models.MatchStatusLive), validateSubstitution)
	v.AddRule(models.EventInfo, validateInfoText)
	v.AddRule(models.EventMatchStart, requireStatus(models.MatchStatusUpcoming))
	v.AddRule(models.EventMatchEnd, requireStatus(models.MatchStatusLive))

	return v
}

// AddRule appends rules for kind.
func (v *SubmissionValidator) AddRule(kind models.EventKind, rules ...ValidationRule) {
	v.rules[kind] = append(v.rules[kind], rules...)
}

// Validate returns the first *common.ValidationError found, or nil.
func (v *SubmissionValidator) Validate(match *models.Match, sub *models.Submission) error {
	rules, ok := v.rules[sub.Kind]
	if !ok {
		return common.NewValidationError("kind", fmt.Sprintf("unsupported event kind %q", sub.Kind))
	}

	for _, rule := range rules {
		if err := rule(match, sub); err != nil {
			v.logger.Debug("Submission rejected for match %s: %v", match.ID, err)
			return err
		}
	}
	return nil
}

// Precheck runs the checks that need no stored match, so obviously bad
// submissions are rejected before the match is even loaded.
func (v *SubmissionValidator) Precheck(sub *models.Submission) error {
	if _, ok := v.rules[sub.Kind]; !ok {
		return common.NewValidationError("kind", fmt.Sprintf("unsupported event kind %q", sub.Kind))
	}
	switch sub.Kind {
	case models.EventGoal, models.EventRedCard:
		return validateSide(nil, sub)
	case models.EventSubstitution:
		if sub.SubOffID == "" {
			return common.NewValidationError("sub_off_id", "is required")
		}
		if sub.SubOnID == "" {
			return common.NewValidationError("sub_on_id", "is required")
		}
		if sub.SubOffID == sub.SubOnID {
			return common.NewValidationError("sub_on_id", "must differ from sub_off_id")
		}
	case models.EventInfo:
		return validateInfoText(nil, sub)
	}
	return nil
}

func requireStatus(status models.MatchStatus) ValidationRule {
	return func(match *models.Match, sub *models.Submission) error {
		if match.Status != status {
			return common.NewValidationError("kind",
				fmt.Sprintf("%s needs a %s match, this one is %s", sub.Kind, status, match.Status))
		}
		return nil
	}
}

func validateSide(_ *models.Match, sub *models.Submission) error {
	if !sub.Side.Valid() {
		return common.NewValidationError("side", "must be home or away")
	}
	return nil
}

// validateScorer requires an active club player for a club goal. The
// opponent's squad is not tracked, so an opponent goal names its scorer and
// must not point at a club lineup id.
func validateScorer(match *models.Match, sub *models.Submission) error {
	if sub.Side == match.ClubSide {
		if sub.ScorerID == "" {
			return common.NewValidationError("scorer_id", "is required")
		}
		if _, ok := match.Lineup.FindActive(sub.ScorerID); !ok {
			return common.NewValidationError("scorer_id", "is not an active player")
		}
		return nil
	}
	return validateOpponentPlayer(match, "scorer_id", "scorer_name", sub.ScorerID, sub.ScorerName)
}

func validateAssist(match *models.Match, sub *models.Submission) error {
	if sub.AssistID == "" {
		return nil
	}
	if sub.Side != match.ClubSide {
		return common.NewValidationError("assist_id", "is only recorded for club goals")
	}
	if sub.AssistID == sub.ScorerID {
		return common.NewValidationError("assist_id", "must differ from the scorer")
	}
	if _, ok := match.Lineup.FindActive(sub.AssistID); !ok {
		return common.NewValidationError("assist_id", "is not an active player")
	}
	return nil
}

// validateCardedPlayer accepts any club lineup entry, bench included, for a
// club red card.
func validateCardedPlayer(match *models.Match, sub *models.Submission) error {
	if sub.Side == match.ClubSide {
		if sub.PlayerID == "" {
			return common.NewValidationError("player_id", "is required")
		}
		if _, ok := match.Lineup.Find(sub.PlayerID); !ok {
			return common.NewValidationError("player_id", "is not in the lineup")
		}
		return nil
	}
	return validateOpponentPlayer(match, "player_id", "player_name", sub.PlayerID, sub.PlayerName)
}

func validateOpponentPlayer(match *models.Match, idField, nameField, id, name string) error {
	if id != "" {
		if _, ok := match.Lineup.Find(id); ok {
			return common.NewValidationError(idField, "belongs to the club lineup, not the opponent")
		}
	}
	if strings.TrimSpace(name) == "" {
		return common.NewValidationError(nameField, "is required for the opponent")
	}
	return nil
}

func validateSubstitution(match *models.Match, sub *models.Submission) error {
	if sub.SubOffID == "" {
		return common.NewValidationError("sub_off_id", "is required")
	}
	if sub.SubOnID == "" {
		return common.NewValidationError("sub_on_id", "is required")
	}
	if sub.SubOffID == sub.SubOnID {
		return common.NewValidationError("sub_on_id", "must differ from sub_off_id")
	}
	if _, ok := match.Lineup.FindActive(sub.SubOffID); !ok {
		return common.NewValidationError("sub_off_id", "is not an active player")
	}
	if _, ok := match.Lineup.FindBench(sub.SubOnID); !ok {
		return common.NewValidationError("sub_on_id", "is not on the bench")
	}
	return nil
}

func validateInfoText(_ *models.Match, sub *models.Submission) error {
	if strings.TrimSpace(sub.Text) == "" {
		return common.NewValidationError("text", "must not be empty")
	}
	return nil
}

// ValidateUpdate checks the fields of an update that need no stored state.
func ValidateUpdate(u *LiveUpdate) error {
	if u.MatchID == "" {
		return common.NewValidationError("match_id", "is required")
	}
	if !u.Score.NonNegative() {
		return common.NewValidationError("score", "must not be negative")
	}
	if !u.Status.Valid() {
		return common.NewValidationError("status", fmt.Sprintf("unknown status %q", u.Status))
	}
	if u.Payload == nil {
		return common.NewValidationError("kind", "is required")
	}
	if strings.TrimSpace(u.Text) == "" {
		return common.NewValidationError("text", "must not be empty")
	}
	if u.Lineup != nil {
		if err := u.Lineup.Validate(); err != nil {
			return common.NewValidationError("lineup", err.Error())
		}
	}
	return nil
}

// CheckTransition enforces the projection invariants against the current
// stored match. Storage implementations call it while holding the match's
// write lock so concurrent writers cannot interleave between check and write.
func CheckTransition(current *models.Match, u *LiveUpdate) error {
	if u.ExpectedVersion != 0 && current.Version != u.ExpectedVersion {
		return common.NewConflictError(fmt.Sprintf(
			"match %s is at version %d, update was based on %d", current.ID, current.Version, u.ExpectedVersion))
	}
	if !current.Status.CanTransitionTo(u.Status) {
		return common.NewInvalidTransitionError(string(current.Status), string(u.Status))
	}
	if u.Score != current.Score && current.Status != models.MatchStatusLive {
		return common.NewInvalidTransitionError(string(current.Status), "score change")
	}
	if current.Status == models.MatchStatusLive && current.Score.Regresses(u.Score) {
		return common.NewValidationError("score", fmt.Sprintf("must not decrease from %s", current.Score))
	}
	return nil
}
