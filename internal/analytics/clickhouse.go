// Package analytics stores per-second channel scores in ClickHouse.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

const createSegmentScores = `
CREATE TABLE IF NOT EXISTS segment_scores (
	job_id      String,
	second      UInt32,
	speaker     UInt8,
	volume_0    Float64,
	energy_0    Float64,
	volume_1    Float64,
	energy_1    Float64,
	recorded_at DateTime
) ENGINE = MergeTree()
ORDER BY (job_id, second)
`

// Recorder accepts the scored output of a diarization run
type Recorder interface {
	RecordSegments(ctx context.Context, jobID string, res *diarize.Result) error
}

// Nop discards everything
type Nop struct{}

func (Nop) RecordSegments(context.Context, string, *diarize.Result) error { return nil }

// Config holds the ClickHouse connection settings
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Row is one stored second
type Row struct {
	JobID      string
	Second     uint32
	Speaker    uint8
	Volume     [diarize.NumSpeakers]float64
	Energy     [diarize.NumSpeakers]float64
	RecordedAt time.Time
}

// Rows flattens a result into one row per second. Results without scores
// produce no rows.
func Rows(jobID string, res *diarize.Result, at time.Time) []Row {
	if res == nil || len(res.Scores) != len(res.Timeline) {
		return nil
	}
	rows := make([]Row, len(res.Timeline))
	for i, label := range res.Timeline {
		sc := res.Scores[i]
		rows[i] = Row{
			JobID:      jobID,
			Second:     uint32(i),
			Speaker:    uint8(label),
			Volume:     [diarize.NumSpeakers]float64{sc[0].Volume, sc[1].Volume},
			Energy:     [diarize.NumSpeakers]float64{sc[0].Energy, sc[1].Energy},
			RecordedAt: at,
		}
	}
	return rows
}

// ClickHouseSink writes rows in one batch per job
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects, pings and creates the table
func NewClickHouseSink(ctx context.Context, cfg Config) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createSegmentScores); err != nil {
		return nil, fmt.Errorf("failed to create segment_scores: %w", err)
	}

	log.WithField("addr", cfg.Addr).Info("connected to ClickHouse")
	return &ClickHouseSink{conn: conn}, nil
}

// RecordSegments inserts every second of res
func (s *ClickHouseSink) RecordSegments(ctx context.Context, jobID string, res *diarize.Result) error {
	rows := Rows(jobID, res, time.Now().UTC())
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO segment_scores")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.JobID, r.Second, r.Speaker, r.Volume[0], r.Energy[0], r.Volume[1], r.Energy[1], r.RecordedAt); err != nil {
			return fmt.Errorf("failed to append second %d: %w", r.Second, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert segment scores: %w", err)
	}

	log.WithFields(log.Fields{"job_id": jobID, "rows": len(rows)}).Debug("segment scores stored")
	return nil
}

// Close closes the connection
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
