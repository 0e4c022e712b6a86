package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// LogSink is the reference sink: it appends events as JSON lines to a
// writer, decoupled from the primary storage system. Suitable as a default
// and for piping into an external collector.
type LogSink struct {
	out io.Writer
}

// NewLogSink creates a sink writing to the given writer; nil means stdout.
func NewLogSink(out io.Writer) *LogSink {
	if out == nil {
		out = os.Stdout
	}
	return &LogSink{out: out}
}

// Append implements Sink.
func (s *LogSink) Append(_ context.Context, event Event) error {
	entry, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal audit event")
		return err
	}
	entry = append(entry, '\n')
	if _, err := s.out.Write(entry); err != nil {
		log.Error().Err(err).Msg("failed to append audit event")
		return err
	}
	return nil
}
