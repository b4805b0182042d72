package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/flowkit/errors"
)

type sampleConfig struct {
	Name       string        `mapstructure:"name" validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	Jitter     float64       `mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Mode       string        `mapstructure:"mode" validate:"omitempty,oneof=fast slow"`
	InitialTTL int
}

func TestValidate_Valid(t *testing.T) {
	cfg := sampleConfig{Name: "retry", MaxRetries: 3, Jitter: 0.1, Timeout: time.Second, Mode: "fast"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	cfg := sampleConfig{MaxRetries: 11, Jitter: 1.5, Mode: "medium"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeConfiguration {
		t.Errorf("expected CONFIGURATION_ERROR, got %s", appErr.Code)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("expected field errors in details, got %T", appErr.Details["fields"])
	}
	if len(fields) != 5 {
		t.Errorf("expected 5 field errors, got %d: %v", len(fields), fields)
	}
	for _, want := range []string{"name: is required", "max_retries: must be at most 10", "jitter_fraction: must be at most 1", "timeout: must be greater than 0", "mode: must be one of: fast slow"} {
		if !strings.Contains(appErr.Message, want) {
			t.Errorf("expected message to contain %q, got %q", want, appErr.Message)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	if got := toSnakeCase("InitialTTL"); got != "initial_t_t_l" {
		t.Errorf("unexpected snake case %q", got)
	}
	if got := toSnakeCase("MaxRetries"); got != "max_retries" {
		t.Errorf("unexpected snake case %q", got)
	}
}
