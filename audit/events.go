package audit

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobScheduled = "job.scheduled"
	ActionJobStarted   = "job.started"
	ActionJobSucceeded = "job.succeeded"
	ActionJobRetrying  = "job.retrying"
	ActionJobFailed    = "job.failed"
	ActionJobTriggered = "job.triggered"
)

// CategoryJob groups all job lifecycle actions.
const CategoryJob = "sked.job"

// ResourceJob is the Resource field for job audit events.
const ResourceJob = "job"

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobScheduled,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobTriggered,
	}
}
