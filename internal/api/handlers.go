package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

func actorID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	return id, err == nil
}

func requireActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing_actor", "X-Actor-ID header must be a valid UUID")
	}
	return id, ok
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseDate(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

// Appointments

func bookAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		book := scheduling.BookRequest{
			DoctorID:  doctorID,
			PatientID: patientID,
			Duration:  time.Duration(req.DurationMinutes) * time.Minute,
			FeeCents:  req.FeeCents,
			Confirm:   req.Confirm,
			ActorID:   actor,
		}
		if req.StartTime != nil {
			book.Start = *req.StartTime
		}
		if req.SlotID != nil {
			slotID, err := uuid.Parse(*req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			book.SlotID = &slotID
		}

		appt, err := svc.BookAppointment(r.Context(), book)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(&detail.Appointment))
	}
}

func listPatientAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		details, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]AppointmentResponse, 0, len(details))
		for i := range details {
			out = append(out, toAppointmentResponse(&details[i].Appointment))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		appt, err := svc.ConfirmAppointment(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		appt, err := svc.CancelAppointment(r.Context(), id, actor, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resched := scheduling.RescheduleRequest{
			NewDuration: time.Duration(req.DurationMinutes) * time.Minute,
			Reason:      req.Reason,
		}
		if req.StartTime != nil {
			resched.NewStart = *req.StartTime
		}
		if req.SlotID != nil {
			slotID, err := uuid.Parse(*req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			resched.NewSlotID = &slotID
		}

		appt, err := svc.RescheduleAppointment(r.Context(), id, actor, resched)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		appt, err := svc.CompleteAppointment(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func markNoShowHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		appt, err := svc.MarkNoShow(r.Context(), id, actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func appointmentAuditHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		logs, err := svc.AuditTrail(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]AuditEntryResponse, 0, len(logs))
		for _, l := range logs {
			out = append(out, AuditEntryResponse{
				ID:            l.ID,
				AppointmentID: l.AppointmentID,
				Action:        l.Action,
				ActorID:       l.ActorID,
				Notes:         l.Notes,
				Before:        l.Before,
				After:         l.After,
				CreatedAt:     l.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Slots and availability

func createSlotHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		slot, err := svc.CreateSlot(r.Context(), doctorID, req.StartTime, req.EndTime, req.Capacity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func bulkCreateSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkCreateSlotsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		from, ok := parseDate(w, req.From, "from")
		if !ok {
			return
		}
		to, ok := parseDate(w, req.To, "to")
		if !ok {
			return
		}

		gen := scheduling.GenerateRequest{
			DoctorID: doctorID,
			From:     from,
			To:       to,
			Break:    time.Duration(req.BreakMinutes) * time.Minute,
		}
		for _, wd := range req.Weekdays {
			if wd < 0 || wd > 6 {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekdays must be 0-6")
				return
			}
			gen.Weekdays = append(gen.Weekdays, time.Weekday(wd))
		}
		for _, tpl := range req.Templates {
			gen.Templates = append(gen.Templates, scheduling.SlotTemplate{
				Start:        tpl.Start,
				End:          tpl.End,
				SlotDuration: time.Duration(tpl.SlotDurationMinutes) * time.Minute,
				Capacity:     tpl.Capacity,
			})
		}

		created, failed, err := svc.BulkCreateSlots(r.Context(), gen)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := BulkCreateSlotsResponse{
			Created: make([]SlotResponse, 0, len(created)),
			Failed:  make([]SlotFailureResponse, 0, len(failed)),
		}
		for i := range created {
			resp.Created = append(resp.Created, toSlotResponse(&created[i]))
		}
		for _, f := range failed {
			resp.Failed = append(resp.Failed, SlotFailureResponse{
				Date:   f.Date.Format("2006-01-02"),
				Start:  f.Start,
				Reason: f.Reason,
			})
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func retireSlotHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		slot, err := svc.RetireSlot(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func checkAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC3339")
			return
		}
		duration := time.Duration(queryInt(r, "duration_minutes", 30)) * time.Minute

		avail, err := svc.CheckAvailability(r.Context(), doctorID, start, duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]AvailabilityResponse, 0, len(avail))
		for i := range avail {
			out = append(out, AvailabilityResponse{
				Slot:      toSlotResponse(&avail[i].Slot),
				Remaining: avail[i].Remaining,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Reminders

func dueRemindersHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if raw := r.URL.Query().Get("now"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_now", "now must be RFC3339")
				return
			}
			now = parsed
		}
		due, err := svc.DueReminders(r.Context(), now)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]ReminderResponse, 0, len(due))
		for i := range due {
			out = append(out, toReminderResponse(&due[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func reminderOutcomeHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req ReminderOutcomeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var delivered bool
		switch req.Outcome {
		case "sent":
			delivered = true
		case "failed":
			delivered = false
		default:
			writeError(w, http.StatusBadRequest, "invalid_outcome", `outcome must be "sent" or "failed"`)
			return
		}
		rem, err := svc.MarkReminderOutcome(r.Context(), id, delivered)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toReminderResponse(rem))
	}
}

// Waiting list

func addWaitlistHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddWaitlistRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, ok := parseDate(w, req.PreferredDate, "preferred_date")
		if !ok {
			return
		}

		entry, err := svc.AddWaitingListEntry(r.Context(), scheduling.WaitlistRequest{
			PatientID:      patientID,
			DoctorID:       doctorID,
			PreferredDate:  date,
			PreferredStart: req.PreferredStart,
			PreferredEnd:   req.PreferredEnd,
			Priority:       req.Priority,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWaitlistEntryResponse(entry))
	}
}

func notifyMatchesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NotifyMatchesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, ok := parseDate(w, req.Date, "date")
		if !ok {
			return
		}

		notified, err := svc.NotifyMatches(r.Context(), doctorID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]WaitlistEntryResponse, 0, len(notified))
		for i := range notified {
			out = append(out, toWaitlistEntryResponse(&notified[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
