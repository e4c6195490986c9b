// Package operations holds the fixed catalog of appointment operations the
// chat gateway can dispatch: their argument schema, their result shape, and
// the typed variants produced once arguments validate.
package operations

import (
	"fmt"
	"strings"
)

// Name identifies an operation in the catalog.
type Name string

const (
	NameCreateAppointment        Name = "CREATE_APPOINTMENT"
	NameCancelAppointment        Name = "CANCEL_APPOINTMENT"
	NameRescheduleAppointment    Name = "RESCHEDULE_APPOINTMENT"
	NameGetAppointmentDetails    Name = "GET_APPOINTMENT_DETAILS"
	NameGetNextAvailableTimeslot Name = "GET_NEXT_AVAILABLE_TIMESLOT_FOR_APPOINTMENT"
	NameGetDoctorDetails         Name = "GET_DOCTOR_DETAILS"
	NameGetHospitalDetails       Name = "GET_HOSPITAL_DETAILS"
	NameGetPatientDetails        Name = "GET_PATIENT_DETAILS"
	NameGetServices              Name = "GET_SERVICES"
)

// Kind is the semantic type of an argument value.
type Kind string

const (
	KindString     Kind = "string"
	KindDate       Kind = "date"
	KindTime       Kind = "time"
	KindIdentifier Kind = "identifier"
)

// Argument is one required argument of an operation.
type Argument struct {
	Name string
	Kind Kind
}

// Definition describes one supported operation. Definitions are immutable.
type Definition struct {
	Name         Name
	Description  string
	Arguments    []Argument
	ResultFields []string
	// Mutating operations change the appointment book and are guarded
	// against double dispatch.
	Mutating bool
}

// Argument returns the named argument of the definition.
func (d Definition) Argument(name string) (Argument, bool) {
	for _, arg := range d.Arguments {
		if arg.Name == name {
			return arg, true
		}
	}
	return Argument{}, false
}

// Registry is the catalog of operations. The zero value is not usable; use
// Default.
type Registry struct {
	defs   []Definition
	byName map[Name]int
}

var defaultRegistry = mustRegistry([]Definition{
	{
		Name:        NameCreateAppointment,
		Description: "book a new appointment",
		Arguments: []Argument{
			{Name: "doctor_name", Kind: KindString},
			{Name: "specialty", Kind: KindString},
			{Name: "date", Kind: KindDate},
			{Name: "time", Kind: KindTime},
			{Name: "patient_name", Kind: KindString},
			{Name: "patient_id", Kind: KindIdentifier},
		},
		ResultFields: []string{"appointment_id"},
		Mutating:     true,
	},
	{
		Name:        NameCancelAppointment,
		Description: "cancel an existing appointment",
		Arguments: []Argument{
			{Name: "appointment_id", Kind: KindIdentifier},
		},
		Mutating: true,
	},
	{
		Name:        NameRescheduleAppointment,
		Description: "move an existing appointment to a new date and time",
		Arguments: []Argument{
			{Name: "appointment_id", Kind: KindIdentifier},
			{Name: "new_date", Kind: KindDate},
			{Name: "new_time", Kind: KindTime},
		},
		Mutating: true,
	},
	{
		Name:        NameGetAppointmentDetails,
		Description: "look up an existing appointment",
		Arguments: []Argument{
			{Name: "appointment_id", Kind: KindIdentifier},
		},
		ResultFields: []string{"appointment_id", "doctor_name", "specialty", "date", "time", "patient_name", "patient_id"},
	},
	{
		Name:        NameGetNextAvailableTimeslot,
		Description: "list open time slots for a doctor on a date",
		Arguments: []Argument{
			{Name: "doctor_name", Kind: KindString},
			{Name: "specialty", Kind: KindString},
			{Name: "date", Kind: KindDate},
		},
		ResultFields: []string{"list_of_time_slots"},
	},
	{Name: NameGetDoctorDetails, Description: "doctor directory lookup"},
	{Name: NameGetHospitalDetails, Description: "hospital directory lookup"},
	{Name: NameGetPatientDetails, Description: "patient directory lookup"},
	{Name: NameGetServices, Description: "list hospital services"},
})

// Default returns the shared, immutable operation catalog.
func Default() *Registry {
	return defaultRegistry
}

func mustRegistry(defs []Definition) *Registry {
	r := &Registry{defs: defs, byName: make(map[Name]int, len(defs))}
	for i, def := range defs {
		if _, dup := r.byName[def.Name]; dup {
			panic(fmt.Sprintf("operations: duplicate operation %s", def.Name))
		}
		seen := make(map[string]struct{}, len(def.Arguments))
		for _, arg := range def.Arguments {
			if _, dup := seen[arg.Name]; dup {
				panic(fmt.Sprintf("operations: duplicate argument %s in %s", arg.Name, def.Name))
			}
			seen[arg.Name] = struct{}{}
		}
		r.byName[def.Name] = i
	}
	return r
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name Name) (Definition, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[idx], true
}

// Parse maps a free-form category string onto a catalog name.
func (r *Registry) Parse(category string) (Name, bool) {
	name := Name(strings.ToUpper(strings.TrimSpace(category)))
	_, ok := r.byName[name]
	return name, ok
}

// Definitions returns the catalog in declaration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// KnowsArgument reports whether any operation declares the argument name.
func (r *Registry) KnowsArgument(name string) bool {
	for _, def := range r.defs {
		if _, ok := def.Argument(name); ok {
			return true
		}
	}
	return false
}

// Catalog renders the operation map shown to the language model: the
// arguments each operation takes and how many return values its response
// must leave placeholders for.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, def := range r.defs {
		b.WriteString(string(def.Name))
		b.WriteString(`: {"args": {`)
		for i, arg := range def.Arguments {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, `"%s": "<%s:%s>"`, arg.Name, arg.Name, arg.Kind)
		}
		b.WriteString(`}, "return_values": [`)
		for i, field := range def.ResultFields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q", field)
		}
		b.WriteString("]}\n")
	}
	return b.String()
}
