package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// apptSnapshot is the structured state captured in audit entries.
type apptSnapshot struct {
	Status             AppointmentStatus `json:"status"`
	SlotID             *uuid.UUID        `json:"slot_id,omitempty"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            time.Time         `json:"end_time"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID        `json:"rescheduled_from,omitempty"`
}

func snapshot(a *Appointment) []byte {
	if a == nil {
		return nil
	}
	data, err := json.Marshal(apptSnapshot{
		Status:             a.Status,
		SlotID:             a.SlotID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		CancellationReason: a.CancellationReason,
		RescheduledFrom:    a.RescheduledFrom,
	})
	if err != nil {
		return nil
	}
	return data
}

// recordAudit appends one immutable log entry for a mutation. It runs inside
// the mutation's transaction: a failed append fails the whole operation, so
// every committed mutation has a durable log entry and vice versa.
func (s *Service) recordAudit(ctx context.Context, appointmentID, actorID uuid.UUID, action, notes string, before, after *Appointment) error {
	entry := AppointmentLog{
		AppointmentID: appointmentID,
		Action:        action,
		ActorID:       actorID,
		Notes:         notes,
		Before:        snapshot(before),
		After:         snapshot(after),
		CreatedAt:     time.Now(),
	}
	if err := s.store.AppendLog(ctx, &entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// AuditTrail returns the append-only history of an appointment, ordered by
// timestamp.
func (s *Service) AuditTrail(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	if _, err := s.store.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	logs, err := s.store.ListLogs(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
