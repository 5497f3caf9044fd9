package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

func TestWriteDomainError_StatusMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{scheduling.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
		{scheduling.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{scheduling.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
		{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{scheduling.ErrReminderNotFound, http.StatusNotFound, "reminder_not_found"},
		{scheduling.ErrCapacityExhausted, http.StatusConflict, "capacity_exhausted"},
		{scheduling.ErrSchedulingConflict, http.StatusConflict, "scheduling_conflict"},
		{scheduling.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{scheduling.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{scheduling.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
		{scheduling.ErrValidation, http.StatusBadRequest, "validation_failed"},
		{scheduling.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)

		if rec.Code != tc.wantStatus {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: body not JSON: %v", tc.err, err)
		}
		if body.Error != tc.wantCode {
			t.Errorf("%v: code = %q, want %q", tc.err, body.Error, tc.wantCode)
		}
	}
}

func TestWriteDomainError_UnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("reserve slot: %w", scheduling.ErrCapacityExhausted)

	rec := httptest.NewRecorder()
	writeDomainError(rec, wrapped)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestWriteJSON_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}
