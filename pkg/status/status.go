package status

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/broker"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/types"
)

// Subject returns the hierarchical status subject for a job. The producer
// API subscribes per owner and per dataset, so the ordering of the tokens
// is part of the contract.
func Subject(ownerID string, embeddedDatasetID, transformID int64) string {
	return fmt.Sprintf("transforms.visualization.status.%s.%d.%d",
		ownerID, embeddedDatasetID, transformID)
}

// Publisher publishes interim and terminal status envelopes for one job.
// The subject is computed once at construction and reused.
type Publisher struct {
	pub     broker.Publisher
	job     *types.Job
	subject string
	logger  zerolog.Logger
}

// NewPublisher builds a per-job publisher.
func NewPublisher(pub broker.Publisher, job *types.Job) *Publisher {
	return &Publisher{
		pub:     pub,
		job:     job,
		subject: Subject(job.OwnerID, job.EmbeddedDatasetID, job.VisualizationTransformID),
		logger:  log.WithJobID(job.JobID.String()),
	}
}

// SubjectName returns the computed status subject.
func (p *Publisher) SubjectName() string {
	return p.subject
}

// Progress publishes an interim processing envelope. Publishing is
// fire-and-forget: a failed progress update is logged and dropped, since
// the broker's at-least-once delivery already covers unacknowledged work.
func (p *Publisher) Progress(stage string, percent int) {
	res := types.NewResult(p.job, types.StatusProcessing)
	res.Stats = map[string]any{
		"stage":            stage,
		"progress_percent": percent,
	}

	data, err := res.Encode()
	if err != nil {
		p.logger.Warn().Err(err).Str("stage", stage).Msg("failed to encode progress envelope")
		return
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		p.logger.Warn().Err(err).Str("stage", stage).Msg("failed to publish progress update")
		return
	}
	p.logger.Debug().Str("stage", stage).Int("progress_percent", percent).Msg("progress update published")
}

// Terminal publishes the terminal envelope. Unlike progress updates a
// failed terminal publish is surfaced so the worker can nak the message
// and let the broker redeliver.
func (p *Publisher) Terminal(res *types.Result) error {
	data, err := res.Encode()
	if err != nil {
		return fmt.Errorf("encode terminal envelope: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish terminal envelope: %w", err)
	}
	p.logger.Info().
		Str("status", string(res.Status)).
		Str("subject", p.subject).
		Msg("terminal status published")
	return nil
}
