package model

// WriteReport is returned by every sink write. Sinks must account for every
// record handed to them; nothing is dropped silently.
type WriteReport struct {
	Written int
	Updated int
	Skipped int
	Failed  int

	// SkippedEntities lists entity ids that were skipped because the sink
	// could not place them, e.g. no matching site registration.
	SkippedEntities []string
}

// Merge folds another report into this one.
func (r *WriteReport) Merge(other WriteReport) {
	r.Written += other.Written
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.SkippedEntities = append(r.SkippedEntities, other.SkippedEntities...)
}

// Total returns the number of records the report accounts for.
func (r WriteReport) Total() int {
	return r.Written + r.Updated + r.Skipped + r.Failed
}

// RunSummary is the aggregate outcome of one pipeline run.
type RunSummary struct {
	Source  Source
	State   string
	Fetched int
	Dropped int // records rejected by canonical validation
	Report  WriteReport

	// FailedEntities lists entities for which fetch never succeeded.
	FailedEntities []string
}
