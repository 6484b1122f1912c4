package business

import (
	"context"
	"errors"
	"strings"

	"livefeed-service/genai"
	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

// Composer 事件编排器. It turns one operator submission into the update the
// Publisher commits. It keeps no state between calls.
type Composer struct {
	logger    common.Logger
	validator *processing.SubmissionValidator
	generator TextGenerator
}

// NewComposer 创建事件编排器
func NewComposer(logger common.Logger, validator *processing.SubmissionValidator, generator TextGenerator) *Composer {
	return &Composer{
		logger:    logger,
		validator: validator,
		generator: generator,
	}
}

// Precheck rejects submissions whose problems are visible without the match.
func (c *Composer) Precheck(sub *models.Submission) error {
	return c.validator.Precheck(sub)
}

// Compose validates sub against match and builds the resulting update. Text is
// generated for every kind except Info, unless the operator typed it in.
func (c *Composer) Compose(ctx context.Context, match *models.Match, sub *models.Submission) (*processing.LiveUpdate, error) {
	if err := c.validator.Validate(match, sub); err != nil {
		return nil, err
	}

	update := &processing.LiveUpdate{
		MatchID:         match.ID,
		Score:           match.Score,
		Status:          match.Status,
		RequestID:       sub.RequestID,
		ExpectedVersion: match.Version,
	}
	req := genai.Request{
		EventType: string(sub.Kind),
		TeamName:  match.TeamName(match.ClubSide),
		HomeTeam:  match.HomeTeam.Name,
		AwayTeam:  match.AwayTeam.Name,
	}

	switch sub.Kind {
	case models.EventGoal:
		scorer := resolvePlayer(match, sub.Side, match.Lineup.FindActive, sub.ScorerID, sub.ScorerName)
		payload := models.GoalPayload{Side: sub.Side, Scorer: scorer}
		if sub.AssistID != "" {
			assist, _ := match.Lineup.FindActive(sub.AssistID)
			payload.Assist = &assist
			req.AssistName = assist.Name
		}
		update.Payload = payload
		update.Score = match.Score.Increment(sub.Side)
		req.TeamName = match.TeamName(sub.Side)
		req.PlayerName = scorer.Name

	case models.EventRedCard:
		player := resolvePlayer(match, sub.Side, match.Lineup.Find, sub.PlayerID, sub.PlayerName)
		update.Payload = models.RedCardPayload{Side: sub.Side, Player: player}
		req.TeamName = match.TeamName(sub.Side)
		req.PlayerName = player.Name

	case models.EventSubstitution:
		off, _ := match.Lineup.FindActive(sub.SubOffID)
		on, _ := match.Lineup.FindBench(sub.SubOnID)
		lineup, err := match.Lineup.Substitute(off.ID, on.ID)
		if err != nil {
			return nil, common.NewValidationError("sub_off_id", err.Error())
		}
		update.Payload = models.SubstitutionPayload{Off: off, On: on}
		update.Lineup = &lineup
		req.PlayerOut = off.Name
		req.PlayerIn = on.Name

	case models.EventInfo:
		update.Payload = models.InfoPayload{}

	case models.EventMatchStart:
		update.Payload = models.MatchStartPayload{}
		update.Status = models.MatchStatusLive
		req.TeamName = match.HomeTeam.Name

	case models.EventMatchEnd:
		update.Payload = models.MatchEndPayload{}
		update.Status = models.MatchStatusFullTime
	}

	home, away := update.Score.Home, update.Score.Away
	req.HomeScore = &home
	req.AwayScore = &away

	if text := strings.TrimSpace(sub.Text); text != "" {
		update.Text = text
		return update, nil
	}

	text, err := c.generator.Generate(ctx, req)
	if err != nil {
		c.logger.Warn("Commentary generation failed for match %s (%s): %v", match.ID, sub.Kind, err)
		if !errors.Is(err, common.ErrGeneration) {
			err = common.NewGenerationError("commentary generation failed", err)
		}
		return nil, err
	}
	update.Text = text
	return update, nil
}

// resolvePlayer looks a club player up with find. Opponent players are
// carried by name only.
func resolvePlayer(match *models.Match, side models.Side, find func(string) (models.PlayerRef, bool), id, name string) models.PlayerRef {
	if side == match.ClubSide {
		if p, ok := find(id); ok {
			return p
		}
	}
	return models.PlayerRef{Name: strings.TrimSpace(name)}
}
