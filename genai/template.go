package genai

import (
	"context"
	"fmt"

	"livefeed-service/pkg/common"
)

// TemplateGenerator writes fixed-phrase commentary without any network call.
// It is used when no API key is configured.
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", common.NewGenerationError("invalid generation request", err)
	}
	if err := ctx.Err(); err != nil {
		return "", common.NewGenerationError("generation cancelled", err)
	}

	var text string
	switch req.EventType {
	case "Goal":
		text = fmt.Sprintf("GOAL! %s score", req.TeamName)
		if req.PlayerName != "" {
			text = fmt.Sprintf("GOAL! %s finds the net for %s", req.PlayerName, req.TeamName)
		}
		if req.AssistName != "" {
			text += fmt.Sprintf(", set up by %s", req.AssistName)
		}
	case "RedCard":
		text = fmt.Sprintf("Red card! %s are down to ten", req.TeamName)
		if req.PlayerName != "" {
			text = fmt.Sprintf("Red card! %s is sent off and %s are down to ten", req.PlayerName, req.TeamName)
		}
	case "Substitution":
		text = fmt.Sprintf("Change for %s: %s replaces %s", req.TeamName, req.PlayerIn, req.PlayerOut)
	case "Match Start":
		text = fmt.Sprintf("We are under way! %s get us started", req.TeamName)
	case "Match End":
		text = "The referee blows the final whistle"
	default:
		text = fmt.Sprintf("%s for %s", req.EventType, req.TeamName)
	}

	if req.HasScore() {
		text += fmt.Sprintf(" (%d - %d)", *req.HomeScore, *req.AwayScore)
	}
	return text + ".", nil
}
