package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

// levelWriterHook directs matched levels to its configured output. The root
// logger's own output is discarded so each level is written exactly once,
// to the stream operators expect it on.
type levelWriterHook struct {
	output io.Writer
	levels []logrus.Level
}

// Fire is invoked when logrus tries to log any message.
func (hook *levelWriterHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = hook.output.Write([]byte(line))
	return err
}

// Levels returns the log levels this hook is being applied to.
func (hook *levelWriterHook) Levels() []logrus.Level {
	return hook.levels
}
