package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/carebridge/clinic-scheduling/internal/redis"
)

// fakeRepo is an in-memory Repository with the same compare-and-set
// semantics as the Postgres implementation. Methods hold a mutex so
// concurrent test bookings exercise real contention.
type fakeRepo struct {
	mu sync.Mutex

	patients   map[uuid.UUID]*Patient
	physicians map[uuid.UUID]*Physician
	slots      map[uuid.UUID]*Slot
	appts      map[uuid.UUID]*Appointment
	refunds    map[uuid.UUID]*RefundRequest
	plans      map[uuid.UUID]*TreatmentPlan // keyed by appointment ID
	events     []EventLog

	insertAppointmentErr error
	insertRefundErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:   make(map[uuid.UUID]*Patient),
		physicians: make(map[uuid.UUID]*Physician),
		slots:      make(map[uuid.UUID]*Slot),
		appts:      make(map[uuid.UUID]*Appointment),
		refunds:    make(map[uuid.UUID]*RefundRequest),
		plans:      make(map[uuid.UUID]*TreatmentPlan),
	}
}

func (f *fakeRepo) addPatient() *Patient {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Patient{ID: uuid.New(), Name: "Test Patient"}
	f.patients[p.ID] = p
	return p
}

func (f *fakeRepo) addPhysician(department string, feeCents int64) *Physician {
	f.mu.Lock()
	defer f.mu.Unlock()
	ph := &Physician{ID: uuid.New(), Name: "Dr. Test", Department: department, ConsultationFeeCents: feeCents}
	f.physicians[ph.ID] = ph
	return ph
}

func (f *fakeRepo) addSlot(physicianID uuid.UUID, date, label string, status SlotStatus) *Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &Slot{ID: uuid.New(), PhysicianID: physicianID, Date: date, TimeLabel: label, Status: status}
	f.slots[s.ID] = s
	return s
}

func (f *fakeRepo) addAppointment(a Appointment) *Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := a
	f.appts[cp.ID] = &cp
	return &cp
}

func (f *fakeRepo) slotByID(id uuid.UUID) *Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (f *fakeRepo) findSlot(physicianID uuid.UUID, date, label string) *Slot {
	for _, s := range f.slots {
		if s.PhysicianID == physicianID && s.Date == date && s.TimeLabel == label {
			return s
		}
	}
	return nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetPhysicianByID(_ context.Context, id uuid.UUID) (*Physician, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ph, ok := f.physicians[id]
	if !ok {
		return nil, ErrPhysicianNotFound
	}
	cp := *ph
	return &cp, nil
}

func (f *fakeRepo) InsertSlots(_ context.Context, slots []Slot) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted int64
	for _, s := range slots {
		if f.findSlot(s.PhysicianID, s.Date, s.TimeLabel) != nil {
			continue // natural-key conflict, skip like ON CONFLICT DO NOTHING
		}
		cp := s
		f.slots[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (f *fakeRepo) GetSlotsByIDs(_ context.Context, ids []uuid.UUID) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, id := range ids {
		if s, ok := f.slots[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListSlotsByLabels(_ context.Context, physicianID uuid.UUID, date string, labels []string) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, label := range labels {
		if s := f.findSlot(physicianID, date, label); s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListSlots(_ context.Context, physicianID uuid.UUID, date string, status *SlotStatus) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, s := range f.slots {
		if s.PhysicianID != physicianID || s.Date != date {
			continue
		}
		if status != nil && s.Status != *status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRepo) ReserveSlot(_ context.Context, physicianID uuid.UUID, date, timeLabel string) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.findSlot(physicianID, date, timeLabel)
	if s == nil {
		return nil, ErrSlotNotFound
	}
	if s.Status != SlotOpen {
		return nil, ErrSlotNotOpen
	}
	s.Status = SlotBooked
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) ReleaseSlot(_ context.Context, physicianID uuid.UUID, date, timeLabel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.findSlot(physicianID, date, timeLabel)
	if s != nil && s.Status == SlotBooked {
		s.Status = SlotOpen
	}
	return nil
}

func (f *fakeRepo) BlockSlots(_ context.Context, ids []uuid.UUID, reason string) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// All-or-nothing like the Postgres transaction: a booked row aborts
	// the whole batch before anything is flipped.
	for _, id := range ids {
		if s, ok := f.slots[id]; ok && s.Status == SlotBooked {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotHasAppointment, s.Date, s.TimeLabel)
		}
	}
	var out []Slot
	for _, id := range ids {
		s, ok := f.slots[id]
		if !ok {
			continue
		}
		s.Status = SlotBlocked
		r := reason
		s.BlockReason = &r
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRepo) UnblockSlots(_ context.Context, ids []uuid.UUID) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, id := range ids {
		s, ok := f.slots[id]
		if !ok || s.Status != SlotBlocked {
			continue
		}
		s.Status = SlotOpen
		s.BlockReason = nil
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeRepo) FindDepartmentAlternatives(_ context.Context, department, date, timeLabel string, exclude uuid.UUID) ([]AlternativePhysician, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AlternativePhysician
	for _, ph := range f.physicians {
		if ph.Department != department || ph.ID == exclude {
			continue
		}
		var best *Slot
		for _, s := range f.slots {
			if s.PhysicianID != ph.ID || s.Date != date || s.Status != SlotOpen {
				continue
			}
			if best == nil || s.TimeLabel == timeLabel {
				best = s
			}
		}
		if best != nil {
			out = append(out, AlternativePhysician{
				PhysicianID: ph.ID,
				Name:        ph.Name,
				Department:  ph.Department,
				TimeLabel:   best.TimeLabel,
			})
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertAppointmentErr != nil {
		return nil, f.insertAppointmentErr
	}
	cp := *a
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, cancellationReason *string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if cancellationReason != nil {
		a.CancellationReason = cancellationReason
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdatePaymentStatus(_ context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok || a.PaymentStatus != from {
		return nil, ErrAppointmentNotFound
	}
	a.PaymentStatus = to
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) FindOverdueAppointments(_ context.Context, before time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appts {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			continue
		}
		at, err := a.StartsAt()
		if err != nil {
			continue
		}
		if at.Before(before) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertRefundRequest(_ context.Context, r *RefundRequest) (*RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertRefundErr != nil {
		return nil, f.insertRefundErr
	}
	for _, existing := range f.refunds {
		if existing.AppointmentID == r.AppointmentID && existing.Status != RefundRejected {
			return nil, ErrDuplicateRefund
		}
	}
	cp := *r
	f.refunds[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetRefundRequestByID(_ context.Context, id uuid.UUID) (*RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[id]
	if !ok {
		return nil, ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) GetActiveRefundByAppointment(_ context.Context, appointmentID uuid.UUID) (*RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.refunds {
		if r.AppointmentID == appointmentID && r.Status != RefundRejected {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRefundNotFound
}

func (f *fakeRepo) UpdateRefundStatus(_ context.Context, id uuid.UUID, from, to RefundStatus) (*RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[id]
	if !ok || r.Status != from {
		return nil, ErrRefundNotFound
	}
	r.Status = to
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) InsertTreatmentPlan(_ context.Context, p *TreatmentPlan) (*TreatmentPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.plans[p.AppointmentID]; exists {
		return nil, ErrDuplicateTreatmentPlan
	}
	cp := *p
	f.plans[cp.AppointmentID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) GetTreatmentPlanByAppointment(_ context.Context, appointmentID uuid.UUID) (*TreatmentPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[appointmentID]
	if !ok {
		return nil, ErrTreatmentPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) UpdateTreatmentPlan(_ context.Context, p *TreatmentPlan) (*TreatmentPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.plans[p.AppointmentID]
	if !ok {
		return nil, ErrTreatmentPlanNotFound
	}
	cp := *p
	cp.ID = existing.ID
	f.plans[cp.AppointmentID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

// fakeLocker mirrors the Redis locker's semantics in memory: the second
// caller for a held key gets ErrLockNotAcquired instead of waiting.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) WithSlotLock(ctx context.Context, physicianID uuid.UUID, date, timeLabel string, fn func(ctx context.Context) error) error {
	key := physicianID.String() + "|" + date + "|" + timeLabel

	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
