package logger

import (
	"fmt"
	"sync"
	"time"
)

// ChunkProgress reports how far a chunked id lookup has got. Gateway
// lookups are split into fixed-size chunks and a large week can take
// dozens of round trips.
type ChunkProgress struct {
	logger      Logger
	ids         int
	chunks      int
	doneIDs     int
	doneChunks  int
	started     time.Time
	lastLogged  time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// NewChunkProgress starts tracking a lookup of ids split into chunks.
func NewChunkProgress(operation string, ids, chunks int, log Logger) *ChunkProgress {
	now := time.Now()
	p := &ChunkProgress{
		logger:      OrDefault(log).WithComponent("progress").WithField("operation", operation),
		ids:         ids,
		chunks:      chunks,
		started:     now,
		lastLogged:  now,
		logInterval: 5 * time.Second,
	}
	p.logger.WithFields(Fields{"ids": ids, "chunks": chunks}).Debug("Chunked lookup started")
	return p
}

// ChunkDone records one finished chunk of n ids. Every chunk is logged at
// debug level; an info line is emitted at most once per interval.
func (p *ChunkProgress) ChunkDone(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.doneIDs += n
	p.doneChunks++
	now := time.Now()
	fields := p.fields(now)
	if now.Sub(p.lastLogged) >= p.logInterval {
		p.logger.WithFields(fields).Info("Chunked lookup progress")
		p.lastLogged = now
		return
	}
	p.logger.WithFields(fields).Debug("Chunk fetched")
}

// Complete logs the totals.
func (p *ChunkProgress) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.WithFields(p.fields(time.Now())).Info("Chunked lookup completed")
}

func (p *ChunkProgress) fields(now time.Time) Fields {
	f := Fields{
		"chunk":   fmt.Sprintf("%d/%d", p.doneChunks, p.chunks),
		"ids":     p.doneIDs,
		"elapsed": now.Sub(p.started).Round(time.Millisecond).String(),
	}
	if p.ids > 0 {
		f["percentage"] = fmt.Sprintf("%.1f%%", float64(p.doneIDs)/float64(p.ids)*100)
	}
	return f
}

// StageLogger logs the stages of one pipeline run. Each stage line
// carries how long the previous stage took.
type StageLogger struct {
	logger    Logger
	started   time.Time
	stage     string
	stageFrom time.Time
}

func NewStageLogger(operation string, log Logger) *StageLogger {
	now := time.Now()
	s := &StageLogger{
		logger:    OrDefault(log).WithField("operation", operation),
		started:   now,
		stageFrom: now,
	}
	s.logger.Info("Pipeline started")
	return s
}

// Stage marks the start of a named stage.
func (s *StageLogger) Stage(name string, fields Fields) {
	now := time.Now()
	entry := s.logger.WithStage(name).WithFields(fields)
	if s.stage != "" {
		entry = entry.WithFields(Fields{
			"previous":          s.stage,
			"previous_duration": now.Sub(s.stageFrom).Round(time.Millisecond).String(),
		})
	}
	entry.Info("Pipeline stage")
	s.stage = name
	s.stageFrom = now
}

// Success ends the run.
func (s *StageLogger) Success(message string) {
	s.logger.WithFields(Fields{
		"duration": time.Since(s.started).String(),
		"status":   "success",
	}).Info(message)
}

// Fail ends the run with err, naming the stage it failed in.
func (s *StageLogger) Fail(err error, message string) {
	log := s.logger.WithError(err).WithField("status", "error")
	if s.stage != "" {
		log = log.WithStage(s.stage)
	}
	log.WithField("duration", time.Since(s.started).String()).Error(message)
}
