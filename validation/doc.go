// Package validation checks configuration structs at construction time.
//
// Config types across flowkit declare their constraints with struct tags
// understood by go-playground/validator. Validate reports every violation in
// a single CONFIGURATION_ERROR so a bad pipeline definition fails before it
// runs.
//
//	type RetryConfig struct {
//	    MaxRetries     int     `validate:"gte=0,lte=100"`
//	    JitterFraction float64 `validate:"gte=0,lte=1"`
//	}
//	if err := validation.Validate(cfg); err != nil { ... }
package validation
