package constants

// JobStatus is the canonical status for job registry records.
type JobStatus string

// Stable values (persisted verbatim in the registry file).
const (
	JobStatusPending    JobStatus = "pending"    // registered, not yet picked up
	JobStatusProcessing JobStatus = "processing" // extraction or persistence in progress
	JobStatusCompleted  JobStatus = "completed"  // legacy writers only; sweep reconciles it
	JobStatusError      JobStatus = "error"      // terminal failure, entry removed right after
)

// Valid reports whether s belongs to the closed status set.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}
