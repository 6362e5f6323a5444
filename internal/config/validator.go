package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var serverIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("model.provider", provider, []string{"anthropic", "openai", "gemini"})
}

// ValidateApprovalMode validates an approval mode name
func (v *Validator) ValidateApprovalMode(mode string) error {
	return oneOf("agent.approval_mode", mode, []string{"plan", "read_only", "default", "yolo"})
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %g", ErrInvalidConfig, temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidConfig, tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("%w: max tokens too large (max 200000), got %d", ErrInvalidConfig, tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("logging.level", level, []string{"debug", "info", "warn", "error"})
}

// ValidateMCPServer checks that exactly one transport is configured.
func (v *Validator) ValidateMCPServer(srv MCPServerConfig) error {
	if !serverIDPattern.MatchString(srv.ID) {
		return fmt.Errorf("%w: invalid server id %q", ErrInvalidConfig, srv.ID)
	}
	hasCmd := strings.TrimSpace(srv.Command) != ""
	hasURL := strings.TrimSpace(srv.URL) != ""
	if hasCmd == hasURL {
		return fmt.Errorf("%w: server %s needs exactly one of command or url", ErrInvalidConfig, srv.ID)
	}
	if hasURL && !strings.HasPrefix(srv.URL, "ws://") && !strings.HasPrefix(srv.URL, "wss://") {
		return fmt.Errorf("%w: server %s url must be ws:// or wss://", ErrInvalidConfig, srv.ID)
	}
	if srv.CallTimeout < 0 {
		return fmt.Errorf("%w: server %s call_timeout must not be negative", ErrInvalidConfig, srv.ID)
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%w: invalid %s %q (must be one of: %s)", ErrInvalidConfig, field, value, strings.Join(allowed, ", "))
}
