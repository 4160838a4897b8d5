// Package pairing is the host pairing-prompt boundary: presenting an
// authorization URL to the user.
package pairing

import (
	"fmt"

	"go.uber.org/zap"
)

// Prompter presents a message and a URL to the human operator
type Prompter interface {
	PromptUser(message, url string)
}

// ConsolePrompter prints the prompt to stdout and the log
type ConsolePrompter struct {
	logger *zap.SugaredLogger
}

// NewConsolePrompter creates a console-backed prompter
func NewConsolePrompter(logger *zap.SugaredLogger) *ConsolePrompter {
	return &ConsolePrompter{logger: logger}
}

// PromptUser prints the pairing prompt
func (p *ConsolePrompter) PromptUser(message, url string) {
	p.logger.Infof("%s: %s", message, url)
	fmt.Printf("\n%s:\n\n  %s\n\n", message, url)
}
