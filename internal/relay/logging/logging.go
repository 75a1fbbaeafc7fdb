package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs used by relayflow.
type LogFields map[string]any

// ServiceLogger is the minimal logging contract required by relay services.
// Its methods mirror Watermill's, in Watermill's order, which lets an
// application hand in whatever logger it already has instead of committing
// to slog.
type ServiceLogger interface {
	Error(msg string, err error, fields LogFields)
	Info(msg string, fields LogFields)
	Debug(msg string, fields LogFields)
	Trace(msg string, fields LogFields)
	With(fields LogFields) ServiceLogger
}

// Watermill's trace and debug calls land on the slog levels they name; no
// remapping happens on the way through.
var identityLevels = map[slog.Level]slog.Level{
	slog.LevelError: slog.LevelError,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelDebug: slog.LevelDebug,
}

// NewSlogServiceLogger adapts a slog.Logger to the ServiceLogger contract.
// Both daemons construct their logger this way.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("relayflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, identityLevels))
}

// NewWatermillServiceLogger adapts an existing Watermill LoggerAdapter for
// use with NewService.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("relayflow: watermill logger cannot be nil")
	}
	return serviceFacade{wm: logger}
}

// serviceFacade exposes a Watermill logger through the ServiceLogger
// contract. LogFields and watermill.LogFields share an underlying type, so
// crossing the boundary is a cast, not a copy.
type serviceFacade struct {
	wm watermill.LoggerAdapter
}

func (f serviceFacade) Error(msg string, err error, fields LogFields) {
	f.wm.Error(msg, err, watermill.LogFields(fields))
}

func (f serviceFacade) Info(msg string, fields LogFields) {
	f.wm.Info(msg, watermill.LogFields(fields))
}

func (f serviceFacade) Debug(msg string, fields LogFields) {
	f.wm.Debug(msg, watermill.LogFields(fields))
}

func (f serviceFacade) Trace(msg string, fields LogFields) {
	f.wm.Trace(msg, watermill.LogFields(fields))
}

func (f serviceFacade) With(fields LogFields) ServiceLogger {
	return serviceFacade{wm: f.wm.With(watermill.LogFields(fields))}
}

// NewWatermillAdapter runs the other direction: it exposes a ServiceLogger
// as a Watermill LoggerAdapter so transports and pubsub internals log
// through the application's logger.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("relayflow: ServiceLogger cannot be nil")
	}
	return watermillFacade{svc: log}
}

type watermillFacade struct {
	svc ServiceLogger
}

func (f watermillFacade) Error(msg string, err error, fields watermill.LogFields) {
	f.svc.Error(msg, err, LogFields(fields))
}

func (f watermillFacade) Info(msg string, fields watermill.LogFields) {
	f.svc.Info(msg, LogFields(fields))
}

func (f watermillFacade) Debug(msg string, fields watermill.LogFields) {
	f.svc.Debug(msg, LogFields(fields))
}

func (f watermillFacade) Trace(msg string, fields watermill.LogFields) {
	f.svc.Trace(msg, LogFields(fields))
}

func (f watermillFacade) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillFacade{svc: f.svc.With(LogFields(fields))}
}
