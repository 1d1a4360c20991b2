package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/observability/metrics"
	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// SlotInventory owns a physician's bookable time units: bulk generation,
// blocking, availability queries, and the reserve/release pair used by the
// booking coordinator.
type SlotInventory struct {
	repo    Repository
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

func NewSlotInventory(repo Repository, m *metrics.BookingMetrics, logger *logging.Logger) *SlotInventory {
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotInventory{repo: repo, metrics: m, logger: logger}
}

// Reservation is the handle BookingCoordinator uses to roll a reserved
// slot back when a downstream step fails.
type Reservation struct {
	SlotID      uuid.UUID
	PhysicianID uuid.UUID
	Date        string
	TimeLabel   string
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func validateTimeLabel(label string) error {
	if _, err := time.Parse(TimeLayout, label); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimeLabel, label)
	}
	return nil
}

// timeLabels produces sorted labels at fixed granularity covering
// [startTime, endTime).
func timeLabels(startTime, endTime string, granularityMinutes int) ([]string, error) {
	start, err := time.Parse(TimeLayout, startTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeLabel, startTime)
	}
	end, err := time.Parse(TimeLayout, endTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeLabel, endTime)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidTimeRange, startTime, endTime)
	}
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}

	step := time.Duration(granularityMinutes) * time.Minute
	var labels []string
	for t := start; t.Before(end); t = t.Add(step) {
		labels = append(labels, t.Format(TimeLayout))
	}
	return labels, nil
}

// dateRange expands an inclusive [from, to] calendar range.
func dateRange(from, to string) ([]string, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, from)
	}
	end, err := time.Parse(DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, to)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvalidDate, from, to)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// authorizeInventory lets staff/admin manage any physician's slots and a
// doctor manage only their own.
func authorizeInventory(actor Actor, physicianID uuid.UUID) error {
	if actor.HasRole(RoleStaff, RoleAdmin) {
		return nil
	}
	if actor.Role == RoleDoctor && actor.ID == physicianID {
		return nil
	}
	return ErrForbidden
}

// GenerateSlots bulk-creates open slots for each date in [dateFrom, dateTo]
// at the given granularity. Already-existing slots are left untouched.
func (inv *SlotInventory) GenerateSlots(ctx context.Context, actor Actor, physicianID uuid.UUID, dateFrom, dateTo, startTime, endTime string, granularityMinutes int) ([]Slot, error) {
	if err := authorizeInventory(actor, physicianID); err != nil {
		return nil, err
	}
	if _, err := inv.repo.GetPhysicianByID(ctx, physicianID); err != nil {
		return nil, fmt.Errorf("load physician: %w", err)
	}

	labels, err := timeLabels(startTime, endTime, granularityMinutes)
	if err != nil {
		return nil, err
	}
	dates, err := dateRange(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(dates)*len(labels))
	for _, date := range dates {
		for _, label := range labels {
			slots = append(slots, Slot{
				ID:          uuid.New(),
				PhysicianID: physicianID,
				Date:        date,
				TimeLabel:   label,
				Status:      SlotOpen,
			})
		}
	}

	inserted, err := inv.repo.InsertSlots(ctx, slots)
	if err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}

	// Return the rows as stored, not the candidates: on a rerun over
	// existing inventory the conflicting inserts were dropped, so the
	// real IDs and statuses live in the table.
	stored := make([]Slot, 0, len(slots))
	for _, date := range dates {
		rows, err := inv.repo.ListSlotsByLabels(ctx, physicianID, date, labels)
		if err != nil {
			return nil, fmt.Errorf("load generated slots: %w", err)
		}
		stored = append(stored, rows...)
	}

	inv.metrics.ObserveSlotMutation("generate", int(inserted))
	inv.logger.Info("slots generated",
		"physician_id", physicianID, "dates", len(dates), "per_day", len(labels), "inserted", inserted)

	return stored, nil
}

// BlockSlots flips open slots to blocked. Blocking a booked slot is a
// conflict: the appointment has to be cancelled first. Nothing is mutated
// on conflict.
func (inv *SlotInventory) BlockSlots(ctx context.Context, actor Actor, slotIDs []uuid.UUID, reason string) ([]Slot, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrEmptyReason
	}
	if len(slotIDs) == 0 {
		return nil, fmt.Errorf("%w: no slot ids", ErrInvalidInput)
	}

	slots, err := inv.repo.GetSlotsByIDs(ctx, slotIDs)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) != len(slotIDs) {
		return nil, ErrSlotNotFound
	}

	for _, s := range slots {
		if err := authorizeInventory(actor, s.PhysicianID); err != nil {
			return nil, err
		}
		if s.Status == SlotBooked {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotHasAppointment, s.Date, s.TimeLabel)
		}
	}

	blocked, err := inv.repo.BlockSlots(ctx, slotIDs, strings.TrimSpace(reason))
	if err != nil {
		return nil, fmt.Errorf("block slots: %w", err)
	}

	inv.metrics.ObserveSlotMutation("block", len(blocked))
	inv.logger.Info("slots blocked", "count", len(blocked), "reason", reason, "actor_role", actor.Role)
	return blocked, nil
}

// UnblockSlots returns blocked slots to open. Slots booked or already open
// are left as they are.
func (inv *SlotInventory) UnblockSlots(ctx context.Context, actor Actor, slotIDs []uuid.UUID) ([]Slot, error) {
	if len(slotIDs) == 0 {
		return nil, fmt.Errorf("%w: no slot ids", ErrInvalidInput)
	}

	slots, err := inv.repo.GetSlotsByIDs(ctx, slotIDs)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) != len(slotIDs) {
		return nil, ErrSlotNotFound
	}

	for _, s := range slots {
		if err := authorizeInventory(actor, s.PhysicianID); err != nil {
			return nil, err
		}
	}

	opened, err := inv.repo.UnblockSlots(ctx, slotIDs)
	if err != nil {
		return nil, fmt.Errorf("unblock slots: %w", err)
	}

	inv.metrics.ObserveSlotMutation("unblock", len(opened))
	inv.logger.Info("slots unblocked", "count", len(opened), "actor_role", actor.Role)
	return opened, nil
}

// QuickBlock generates then blocks a contiguous range in one call, for
// emergencies ("Conference", "Surgery overran").
func (inv *SlotInventory) QuickBlock(ctx context.Context, actor Actor, physicianID uuid.UUID, date, startTime, endTime, reason string) ([]Slot, error) {
	if err := authorizeInventory(actor, physicianID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrEmptyReason
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}

	labels, err := timeLabels(startTime, endTime, DefaultGranularityMinutes)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(labels))
	for _, label := range labels {
		slots = append(slots, Slot{
			ID:          uuid.New(),
			PhysicianID: physicianID,
			Date:        date,
			TimeLabel:   label,
			Status:      SlotOpen,
		})
	}
	if _, err := inv.repo.InsertSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}

	existing, err := inv.repo.ListSlotsByLabels(ctx, physicianID, date, labels)
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(existing))
	for _, s := range existing {
		if s.Status == SlotBooked {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotHasAppointment, s.Date, s.TimeLabel)
		}
		ids = append(ids, s.ID)
	}

	blocked, err := inv.repo.BlockSlots(ctx, ids, strings.TrimSpace(reason))
	if err != nil {
		return nil, fmt.Errorf("block range: %w", err)
	}

	inv.metrics.ObserveSlotMutation("quick_block", len(blocked))
	inv.logger.Info("quick block applied",
		"physician_id", physicianID, "date", date, "from", startTime, "to", endTime, "count", len(blocked))

	return blocked, nil
}

// ListAvailable returns the physician's open slots for a date, ascending
// by time label.
func (inv *SlotInventory) ListAvailable(ctx context.Context, physicianID uuid.UUID, date string) ([]Slot, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	status := SlotOpen
	slots, err := inv.repo.ListSlots(ctx, physicianID, date, &status)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// Reserve atomically moves one slot open -> booked. The repository performs
// a compare-and-set, so of two concurrent attempts exactly one wins and the
// other gets ErrSlotNotOpen.
func (inv *SlotInventory) Reserve(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) (*Reservation, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	if err := validateTimeLabel(timeLabel); err != nil {
		return nil, err
	}

	slot, err := inv.repo.ReserveSlot(ctx, physicianID, date, timeLabel)
	if err != nil {
		return nil, err
	}

	return &Reservation{
		SlotID:      slot.ID,
		PhysicianID: slot.PhysicianID,
		Date:        slot.Date,
		TimeLabel:   slot.TimeLabel,
	}, nil
}

// Release moves a slot booked -> open. Idempotent when the slot is already
// open; a blocked slot stays blocked.
func (inv *SlotInventory) Release(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) error {
	if err := inv.repo.ReleaseSlot(ctx, physicianID, date, timeLabel); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
