package ai

import (
	"context"
	"strings"
)

// Ensure interface compliance
var _ LanguageModel = (*StubClient)(nil)

// StubClient заглушка, которая не делает реальных запросов: отвечает заготовкой по ключевым словам сводки.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

var stubReplies = []struct{ keyword, reply string }{
	{"Arrived in", "Jump complete. Welcome to the new system, Commander."},
	{"Docking granted", "Docking permission confirmed. Approach with caution."},
	{"Docking denied", "They refused us docking permission. Rude."},
	{"Shields have gone down", "Shields are down. I hope you know what you're doing."},
	{"fuel is critically low", "We're running on fumes here! Find a fuel scoop!"},
	{"Bounty claimed", "Another bounty collected. That's more credits for us."},
	{"has been destroyed", "Systems... failing... Commander..."},
	{"Material collected", "Material acquired. Adding to inventory."},
	{"Scan complete", "Scan complete. Data logged."},
	{"Undocked", "Released from station. Free to roam."},
	{"Entering supercruise", "Engaging supercruise drive."},
	{"Dropping from supercruise", "Dropping to normal space."},
	{"Fuel tanks are now full", "Tanks topped off. Ready to go."},
	{"Initiating", "Spooling frame shift drive."},
	{"Welcome back", "Systems online. Welcome back, Commander."},
}

func (c *StubClient) Generate(_ context.Context, prompt string, _ []string) (string, error) {
	for _, r := range stubReplies {
		if strings.Contains(prompt, r.keyword) {
			return r.reply, nil
		}
	}
	return "Acknowledged, Commander.", nil
}
