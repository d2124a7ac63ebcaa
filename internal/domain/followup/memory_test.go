package followup

// matchesFilter is the in-memory equivalent of the WHERE clause built by
// followUpRepoPG.List.
func matchesFilter(f Filter, a *FollowUp) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.From != nil && a.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && a.Date.After(*f.To) {
		return false
	}
	if f.Overdue && !(a.Date.Before(f.Today) && (a.Status == StatusScheduled || a.Status == StatusConfirmed)) {
		return false
	}
	if f.Upcoming && (a.Date.Before(f.Today) || a.Status.Terminal()) {
		return false
	}
	return true
}
