package booking

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/wolfman30/patientpal/internal/operations"
)

// DaySlots are the bookable start times of every doctor's day.
var DaySlots = []string{"09:00", "10:00", "11:00", "14:00", "15:00"}

// DemoAppointment is seeded into every MemoryBook. It sits on a day of its
// own so the example booking for Dr. Smith on 2025-07-05 stays open.
var DemoAppointment = Appointment{
	ID:          "123456",
	DoctorName:  "Dr. Smith",
	Specialty:   "Cardiology",
	Date:        "2025-07-01",
	Time:        "10:00",
	PatientName: "John Appleseed",
	PatientID:   "1234854545",
}

// MemoryBook is an in-process appointment book for development and tests.
type MemoryBook struct {
	mu           sync.Mutex
	appointments map[string]Appointment
	nextID       int
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{
		appointments: map[string]Appointment{DemoAppointment.ID: DemoAppointment},
		nextID:       123457,
	}
}

func (b *MemoryBook) Name() string { return "memory" }

func (b *MemoryBook) Execute(ctx context.Context, op operations.Operation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o := op.(type) {
	case operations.CreateAppointment:
		appt := Appointment{
			DoctorName:  o.DoctorName,
			Specialty:   o.Specialty,
			Date:        o.Date.Format(operations.DateLayout),
			Time:        o.Time.Format(operations.TimeLayout),
			PatientName: o.PatientName,
			PatientID:   o.PatientID,
		}
		if !slices.Contains(DaySlots, appt.Time) {
			return Result{}, rejected(op.Name(), "%s is outside the bookable hours %s", appt.Time, strings.Join(DaySlots, ", "))
		}
		if b.bookedLocked(appt.DoctorName, appt.Date, appt.Time, "") {
			return Result{}, rejected(op.Name(), "%s is already booked at %s on %s", appt.DoctorName, appt.Time, appt.Date)
		}
		appt.ID = strconv.Itoa(b.nextID)
		b.nextID++
		b.appointments[appt.ID] = appt
		return Result{Values: []string{appt.ID}}, nil

	case operations.CancelAppointment:
		if _, ok := b.appointments[o.AppointmentID]; !ok {
			return Result{}, rejected(op.Name(), "appointment %s was not found", o.AppointmentID)
		}
		delete(b.appointments, o.AppointmentID)
		return Result{}, nil

	case operations.RescheduleAppointment:
		appt, ok := b.appointments[o.AppointmentID]
		if !ok {
			return Result{}, rejected(op.Name(), "appointment %s was not found", o.AppointmentID)
		}
		date, clock := o.NewDate.Format(operations.DateLayout), o.NewTime.Format(operations.TimeLayout)
		if !slices.Contains(DaySlots, clock) {
			return Result{}, rejected(op.Name(), "%s is outside the bookable hours %s", clock, strings.Join(DaySlots, ", "))
		}
		if b.bookedLocked(appt.DoctorName, date, clock, appt.ID) {
			return Result{}, rejected(op.Name(), "%s is already booked at %s on %s", appt.DoctorName, clock, date)
		}
		appt.Date, appt.Time = date, clock
		b.appointments[appt.ID] = appt
		return Result{}, nil

	case operations.GetAppointmentDetails:
		appt, ok := b.appointments[o.AppointmentID]
		if !ok {
			return Result{}, rejected(op.Name(), "appointment %s was not found", o.AppointmentID)
		}
		return Result{Values: appt.Values()}, nil

	case operations.GetNextAvailableTimeslot:
		date := o.Date.Format(operations.DateLayout)
		open := make([]string, 0, len(DaySlots))
		for _, slot := range DaySlots {
			if !b.bookedLocked(o.DoctorName, date, slot, "") {
				open = append(open, slot)
			}
		}
		if len(open) == 0 {
			return Result{}, rejected(op.Name(), "%s has no open time slots on %s", o.DoctorName, date)
		}
		return Result{Values: []string{strings.Join(open, ", ")}}, nil
	}
	return Result{}, notImplemented(op.Name())
}

// Appointment returns a booked appointment by id.
func (b *MemoryBook) Appointment(id string) (Appointment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	appt, ok := b.appointments[id]
	return appt, ok
}

func (b *MemoryBook) bookedLocked(doctor, date, clock, exceptID string) bool {
	for id, appt := range b.appointments {
		if id == exceptID {
			continue
		}
		if strings.EqualFold(appt.DoctorName, doctor) && appt.Date == date && appt.Time == clock {
			return true
		}
	}
	return false
}
