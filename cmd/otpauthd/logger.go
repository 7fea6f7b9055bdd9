package main

import (
	"go.uber.org/zap"

	otpauth "github.com/goliatone/go-auth-otp"
)

type zapLogger struct {
	log *zap.SugaredLogger
}

var _ otpauth.Logger = zapLogger{}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (l zapLogger) Debug(msg string, args ...any) { l.log.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.log.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.log.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.log.Errorw(msg, args...) }
