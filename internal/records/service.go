package records

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oohdoc/booking-platform/pkg/logging"
)

var recordsTracer = otel.Tracer("oohdoc.internal.records")

// Service writes booking records once payments are captured.
type Service struct {
	repo   *Repository
	logger *logging.Logger
}

// NewService constructs a records service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("records: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// SaveConfirmed persists a confirmed booking.
func (s *Service) SaveConfirmed(ctx context.Context, rec BookingRecord) error {
	ctx, span := recordsTracer.Start(ctx, "records.save_confirmed")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.case_no", rec.CaseNo),
		attribute.Int64("booking.visit_id", rec.VisitID),
	)

	if err := s.repo.Insert(ctx, &rec); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("booking record saved",
		"case_no", rec.CaseNo,
		"visit_id", rec.VisitID,
		"appointment_id", rec.AppointmentID,
	)
	return nil
}
