package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/logger"
)

// Stable section headers so downstream prompt construction can locate each
// section. These are part of the assembler's contract; do not reword.
const (
	SectionAbout        = "--- ABOUT ---"
	SectionProfile      = "--- USER'S HEALTH PROFILE ---"
	SectionHistory      = "--- RELEVANT MEDICAL HISTORY ---"
	SectionAppointments = "--- UPCOMING APPOINTMENTS ---"
)

// aboutFraming is fixed, never data-derived.
const aboutFraming = "The sections below describe the person you are speaking with. " +
	"Use them to ground your answers in their recorded health information."

// ContextAssembler merges the static profile with privacy-filtered retrieval
// output into one bounded plain-text block with a deterministic section
// order. Budget overflow is resolved by omission at item granularity: a
// clinical fact is either fully present or absent, never cut mid-sentence.
type ContextAssembler interface {
	Assemble(p *profile.PersonProfile, items []profile.ContextItem, budget int) string
}

type contextAssembler struct {
	log *logger.Logger
}

func NewContextAssembler(log *logger.Logger) ContextAssembler {
	return &contextAssembler{log: log.With("service", "ContextAssembler")}
}

func (a *contextAssembler) Assemble(p *profile.PersonProfile, items []profile.ContextItem, budget int) string {
	w := &budgetWriter{budget: budget}

	w.add(SectionAbout + "\n" + aboutFraming)

	if p != nil {
		w.add(SectionProfile)
		for _, line := range profileLines(p) {
			w.add(line)
		}
	}

	if len(items) > 0 {
		w.add(SectionHistory)
		for _, item := range items {
			w.add(renderContextItem(item))
		}
	}

	if p != nil && len(p.Appointments) > 0 {
		w.add(SectionAppointments)
		for _, apt := range p.Appointments {
			w.add(renderAppointment(apt))
		}
	}

	return w.String()
}

// budgetWriter appends whole items until one would cross the budget, then
// drops that item and everything after it.
type budgetWriter struct {
	b       strings.Builder
	budget  int
	stopped bool
}

func (w *budgetWriter) add(item string) {
	if w.stopped || item == "" {
		return
	}
	sep := ""
	if w.b.Len() > 0 {
		sep = "\n"
	}
	if w.budget > 0 && w.b.Len()+len(sep)+len(item) > w.budget {
		w.stopped = true
		return
	}
	w.b.WriteString(sep)
	w.b.WriteString(item)
}

func (w *budgetWriter) String() string { return w.b.String() }

func profileLines(p *profile.PersonProfile) []string {
	var lines []string

	name := p.Person.PreferredName
	if name == "" {
		name = p.Person.Name
	}
	if name != "" {
		lines = append(lines, "Current user: "+name)
	}
	if p.Person.FullLegalName != "" {
		lines = append(lines, "Full legal name: "+p.Person.FullLegalName)
	}
	if p.Person.DateOfBirth != "" {
		lines = append(lines, "Date of birth: "+p.Person.DateOfBirth)
	}
	if p.Person.BloodType != "" {
		lines = append(lines, "Blood type: "+p.Person.BloodType)
	}
	if names := aliasNames(p.Person.Aliases); len(names) > 0 {
		lines = append(lines, "Name aliases (may appear on medical records): "+strings.Join(names, ", "))
	}
	if active := activeConditionNames(p.Conditions); len(active) > 0 {
		lines = append(lines, "Current conditions: "+strings.Join(active, ", "))
	}
	if meds := currentMedications(p.Medications); len(meds) > 0 {
		lines = append(lines, "Current medications: "+strings.Join(meds, ", "))
	}
	if allergies := allergyLines(p.Allergies); len(allergies) > 0 {
		lines = append(lines, "Allergies: "+strings.Join(allergies, ", "))
	}
	return lines
}

func aliasNames(aliases []profile.Alias) []string {
	var out []string
	for _, a := range aliases {
		if a.Name != "" {
			out = append(out, a.Name)
		}
	}
	return out
}

func activeConditionNames(conditions []profile.ConditionRecord) []string {
	var out []string
	for _, c := range conditions {
		if c.Status == "resolved" {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func currentMedications(meds []profile.MedicationRecord) []string {
	var out []string
	for _, m := range meds {
		if !m.Active() {
			continue
		}
		entry := m.Name
		if m.Dosage != "" {
			entry += " (" + m.Dosage + ")"
		}
		out = append(out, entry)
	}
	return out
}

func allergyLines(allergies []profile.Allergy) []string {
	var out []string
	for _, al := range allergies {
		entry := al.Name
		if al.Reaction != "" {
			entry += " (" + al.Reaction + ")"
		}
		out = append(out, entry)
	}
	return out
}

func renderContextItem(item profile.ContextItem) string {
	var b strings.Builder

	date := "unknown date"
	if !item.EventDate.IsZero() {
		date = humanDate(item.EventDate)
	}
	fmt.Fprintf(&b, "Medical event (%s)\n", date)
	if item.Summary != "" {
		b.WriteString("Summary: " + item.Summary + "\n")
	}
	if names := conditionNames(item.Conditions); len(names) > 0 {
		b.WriteString("Related conditions: " + strings.Join(names, ", ") + "\n")
	}
	if notable := notableLabResults(item.LabResults); len(notable) > 0 {
		b.WriteString("Notable lab results:\n")
		for _, lr := range notable {
			line := "  - " + lr.TestName + ": " + lr.Value
			if lr.Unit != "" {
				line += " " + lr.Unit
			}
			if lr.Flag != "" {
				line += " (" + lr.Flag + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	if len(item.Medications) > 0 {
		b.WriteString("Active medications: " + strings.Join(item.Medications, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func conditionNames(conditions []profile.ConditionRecord) []string {
	var out []string
	for _, c := range conditions {
		out = append(out, c.Name)
	}
	return out
}

// notableLabResults keeps abnormal line items, at most five per event.
func notableLabResults(results []profile.LabResult) []profile.LabResult {
	var out []profile.LabResult
	for _, lr := range results {
		if lr.Flag == "" || lr.Flag == "normal" {
			continue
		}
		out = append(out, lr)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func renderAppointment(apt profile.Appointment) string {
	line := humanDate(apt.Date)
	if apt.Time != "" {
		line += " at " + apt.Time
	}
	kind := apt.Type
	if kind == "" {
		kind = "appointment"
	}
	line += ": " + kind
	if apt.Provider != "" {
		line += " with " + apt.Provider
	}
	if apt.Facility != "" {
		line += " (" + apt.Facility + ")"
	}
	if apt.Purpose != "" {
		line += " - " + apt.Purpose
	}
	return line
}

func humanDate(t time.Time) string {
	return t.Format("January 2, 2006")
}
