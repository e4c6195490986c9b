package operations

import (
	"strings"
	"time"
)

// Operation is a validated, executable request against the appointment book.
// Only the variants declared in this package implement it, so a value of
// this type always names a catalog operation with well-formed arguments.
type Operation interface {
	Name() Name
	// Arguments returns the canonical argument values keyed by schema name.
	Arguments() map[string]string
	Mutating() bool
	sealed()
}

type CreateAppointment struct {
	DoctorName  string
	Specialty   string
	Date        time.Time
	Time        time.Time
	PatientName string
	PatientID   string
}

func (CreateAppointment) Name() Name     { return NameCreateAppointment }
func (CreateAppointment) Mutating() bool { return true }
func (CreateAppointment) sealed()        {}

func (o CreateAppointment) Arguments() map[string]string {
	return map[string]string{
		"doctor_name":  o.DoctorName,
		"specialty":    o.Specialty,
		"date":         o.Date.Format(DateLayout),
		"time":         o.Time.Format(TimeLayout),
		"patient_name": o.PatientName,
		"patient_id":   o.PatientID,
	}
}

// StartsAt combines the civil date and time of the appointment.
func (o CreateAppointment) StartsAt() time.Time {
	return combine(o.Date, o.Time)
}

type CancelAppointment struct {
	AppointmentID string
}

func (CancelAppointment) Name() Name     { return NameCancelAppointment }
func (CancelAppointment) Mutating() bool { return true }
func (CancelAppointment) sealed()        {}

func (o CancelAppointment) Arguments() map[string]string {
	return map[string]string{"appointment_id": o.AppointmentID}
}

type RescheduleAppointment struct {
	AppointmentID string
	NewDate       time.Time
	NewTime       time.Time
}

func (RescheduleAppointment) Name() Name     { return NameRescheduleAppointment }
func (RescheduleAppointment) Mutating() bool { return true }
func (RescheduleAppointment) sealed()        {}

func (o RescheduleAppointment) Arguments() map[string]string {
	return map[string]string{
		"appointment_id": o.AppointmentID,
		"new_date":       o.NewDate.Format(DateLayout),
		"new_time":       o.NewTime.Format(TimeLayout),
	}
}

func (o RescheduleAppointment) StartsAt() time.Time {
	return combine(o.NewDate, o.NewTime)
}

type GetAppointmentDetails struct {
	AppointmentID string
}

func (GetAppointmentDetails) Name() Name     { return NameGetAppointmentDetails }
func (GetAppointmentDetails) Mutating() bool { return false }
func (GetAppointmentDetails) sealed()        {}

func (o GetAppointmentDetails) Arguments() map[string]string {
	return map[string]string{"appointment_id": o.AppointmentID}
}

type GetNextAvailableTimeslot struct {
	DoctorName string
	Specialty  string
	Date       time.Time
}

func (GetNextAvailableTimeslot) Name() Name     { return NameGetNextAvailableTimeslot }
func (GetNextAvailableTimeslot) Mutating() bool { return false }
func (GetNextAvailableTimeslot) sealed()        {}

func (o GetNextAvailableTimeslot) Arguments() map[string]string {
	return map[string]string{
		"doctor_name": o.DoctorName,
		"specialty":   o.Specialty,
		"date":        o.Date.Format(DateLayout),
	}
}

// Directory lookups take no arguments and are answered by the provider's
// catalog APIs.
type (
	GetDoctorDetails   struct{}
	GetHospitalDetails struct{}
	GetPatientDetails  struct{}
	GetServices        struct{}
)

func (GetDoctorDetails) Name() Name                   { return NameGetDoctorDetails }
func (GetDoctorDetails) Mutating() bool               { return false }
func (GetDoctorDetails) Arguments() map[string]string { return map[string]string{} }
func (GetDoctorDetails) sealed()                      {}

func (GetHospitalDetails) Name() Name                   { return NameGetHospitalDetails }
func (GetHospitalDetails) Mutating() bool               { return false }
func (GetHospitalDetails) Arguments() map[string]string { return map[string]string{} }
func (GetHospitalDetails) sealed()                      {}

func (GetPatientDetails) Name() Name                   { return NameGetPatientDetails }
func (GetPatientDetails) Mutating() bool               { return false }
func (GetPatientDetails) Arguments() map[string]string { return map[string]string{} }
func (GetPatientDetails) sealed()                      {}

func (GetServices) Name() Name                   { return NameGetServices }
func (GetServices) Mutating() bool               { return false }
func (GetServices) Arguments() map[string]string { return map[string]string{} }
func (GetServices) sealed()                      {}

// Bind validates args and builds the typed operation. It returns a
// *ValidationError when the arguments are missing, invalid, or the name is
// not in the catalog.
func (r *Registry) Bind(name Name, args map[string]string) (Operation, error) {
	if v := r.Validate(name, args); v.Status != StatusComplete {
		return nil, &ValidationError{Operation: name, Validation: v}
	}
	get := func(key string) string { return strings.TrimSpace(args[key]) }
	// Validate already proved every value parses.
	date := func(key string) time.Time {
		d, _ := ParseDate(get(key))
		return d
	}
	clock := func(key string) time.Time {
		c, _ := ParseClock(get(key))
		return c
	}

	switch name {
	case NameCreateAppointment:
		return CreateAppointment{
			DoctorName:  get("doctor_name"),
			Specialty:   get("specialty"),
			Date:        date("date"),
			Time:        clock("time"),
			PatientName: get("patient_name"),
			PatientID:   get("patient_id"),
		}, nil
	case NameCancelAppointment:
		return CancelAppointment{AppointmentID: get("appointment_id")}, nil
	case NameRescheduleAppointment:
		return RescheduleAppointment{
			AppointmentID: get("appointment_id"),
			NewDate:       date("new_date"),
			NewTime:       clock("new_time"),
		}, nil
	case NameGetAppointmentDetails:
		return GetAppointmentDetails{AppointmentID: get("appointment_id")}, nil
	case NameGetNextAvailableTimeslot:
		return GetNextAvailableTimeslot{
			DoctorName: get("doctor_name"),
			Specialty:  get("specialty"),
			Date:       date("date"),
		}, nil
	case NameGetDoctorDetails:
		return GetDoctorDetails{}, nil
	case NameGetHospitalDetails:
		return GetHospitalDetails{}, nil
	case NameGetPatientDetails:
		return GetPatientDetails{}, nil
	case NameGetServices:
		return GetServices{}, nil
	}
	return nil, &ValidationError{Operation: name, Validation: Validation{Status: StatusUnknown}}
}

func combine(date, clock time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
}
