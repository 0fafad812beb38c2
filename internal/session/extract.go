package session

import (
	"fmt"
	"strconv"
	"strings"

	"DiceSentinel/internal/model"
)

// ParseDiceOutcome turns the dice result text into a single win or loss.
func ParseDiceOutcome(text string) model.ResultRecord {
	if strings.Contains(strings.ToLower(text), "win") {
		return model.ResultRecord{Wins: 1}
	}
	return model.ResultRecord{Losses: 1}
}

// ParseCredits parses a credits balance such as "1,234".
func ParseCredits(text string) (int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	n, err := strconv.Atoi(clean)
	if err != nil {
		return 0, fmt.Errorf("parse credits %q: %w", text, err)
	}
	return n, nil
}
