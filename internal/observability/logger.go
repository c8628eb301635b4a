package observability

import (
	"go.uber.org/zap"
)

// NewLogger returns a human-readable development logger for env
// "development" and a JSON production logger otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
