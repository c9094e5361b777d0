package report

import (
	"context"

	"go.uber.org/zap"

	"rollbook/internal/metrics"
	"rollbook/internal/queue"
)

// MaxArchiveAttempts bounds how often a failing archive job is requeued.
const MaxArchiveAttempts = 3

// RunArchiver consumes archive jobs from q until ctx is done. A nil up means
// no file storage is configured and jobs are acknowledged without upload.
func (s *Service) RunArchiver(ctx context.Context, q queue.Queue, up Uploader) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != queue.TypeReportArchive {
			continue
		}
		s.archiveOne(ctx, q, up, msg)
	}
	return ctx.Err()
}

func (s *Service) archiveOne(ctx context.Context, q queue.Queue, up Uploader, msg queue.Message) {
	log := s.log.With(zap.String("report_id", msg.Body), zap.Int("attempt", msg.Attempts+1))
	if up == nil {
		metrics.ReportArchives.WithLabelValues("skipped").Inc()
		log.Debug("archive skipped, no file storage configured")
		return
	}
	ref, err := s.Archive(ctx, msg.Body, up)
	if err == nil {
		metrics.ReportArchives.WithLabelValues("success").Inc()
		log.Info("report archived", zap.String("file", ref))
		return
	}
	if ctx.Err() != nil {
		return
	}
	next := msg.Retry()
	if next.Attempts >= MaxArchiveAttempts {
		metrics.ReportArchives.WithLabelValues("failed").Inc()
		log.Error("report archive failed", zap.Error(err))
		return
	}
	metrics.ReportArchives.WithLabelValues("retry").Inc()
	log.Warn("report archive failed, requeueing", zap.Error(err))
	if err := q.Publish(ctx, next); err != nil {
		log.Error("requeue archive job failed", zap.Error(err))
	}
}
