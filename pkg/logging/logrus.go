package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Setter applies a configuration change to the shared root logger.
type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: logrus.New(),
	mutex:  &sync.Mutex{},
}

// Logger is the field-aware logger handed to pipeline components.
type Logger interface {
	logrus.FieldLogger
}

// New returns a logger scoped to the named component. Setters are applied
// to the shared root before the scoped logger is handed out.
func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

// Set applies a Setter to the root logger.
func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

// Level parses and applies a log level by name. Unparsable names fall back
// to info so a typo in --log-level doesn't silence the run.
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Hook attaches a logrus hook to the root logger.
func Hook(h logrus.Hook) Setter {
	return func(r *logrus.Logger) error {
		r.AddHook(h)
		return nil
	}
}

// Configure applies an arbitrary mutation to the root logger.
func Configure(fn func(*logrus.Logger)) Setter {
	return func(r *logrus.Logger) error {
		fn(r)
		return nil
	}
}
