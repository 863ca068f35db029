package config

import "go.uber.org/zap"

// NewLogger returns a console logger in development and a JSON production
// logger everywhere else.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "dev" || env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
