package gpucompute

import (
	"fmt"
	"slices"

	"github.com/gogpu/gpucompute/gpucore"
)

// Workgroup is the number of workgroups of one dispatch in x, y and z.
type Workgroup [3]uint32

// Pass is one compute pass: a pipeline bind for Entry followed by one
// dispatch per Workgroups entry. Dispatches within a pass have no ordering
// guarantee relative to each other; split data-dependent work into passes.
type Pass struct {
	Entry      string
	Workgroups []Workgroup
}

// Job is a dispatch request for one data type. Passes run in order.
type Job struct {
	Passes []Pass

	// Retry is the number of times the job has been requeued.
	Retry int

	// SkipReadback encodes the passes without copying any staged slot or
	// image back. The job still completes.
	SkipReadback bool
}

// NewJob returns a job with a single pass.
func NewJob(entry string, workgroups ...Workgroup) Job {
	return Job{Passes: []Pass{{Entry: entry, Workgroups: workgroups}}}
}

// AddPass appends a pass and returns the job for chaining.
func (j *Job) AddPass(entry string, workgroups ...Workgroup) *Job {
	j.Passes = append(j.Passes, Pass{Entry: entry, Workgroups: workgroups})
	return j
}

// mergeJobs combines the jobs queued in one cycle. Passes are
// de-duplicated by entry point, first occurrence wins. The merged retry
// count is the highest one, and readback is skipped only if every job
// asked for it.
func mergeJobs(jobs []Job) Job {
	merged := Job{SkipReadback: len(jobs) > 0}
	seen := make(map[string]bool)
	for _, job := range jobs {
		merged.Retry = max(merged.Retry, job.Retry)
		merged.SkipReadback = merged.SkipReadback && job.SkipReadback
		for _, p := range job.Passes {
			if seen[p.Entry] {
				continue
			}
			seen[p.Entry] = true
			merged.Passes = append(merged.Passes, Pass{Entry: p.Entry, Workgroups: slices.Clone(p.Workgroups)})
		}
	}
	return merged
}

// validatePass checks a pass against the declared entry points and the
// device workgroup limit.
func validatePass(p Pass, entries []string, limits gpucore.Limits) error {
	if !slices.Contains(entries, p.Entry) {
		return fmt.Errorf("%w: %q", ErrUnknownEntryPoint, p.Entry)
	}
	for i, wg := range p.Workgroups {
		for axis, n := range wg {
			if n == 0 {
				return fmt.Errorf("%w: %q dispatch %d axis %d", ErrZeroWorkgroup, p.Entry, i, axis)
			}
			if limits.MaxComputeWorkgroupsPerDimension > 0 && n > limits.MaxComputeWorkgroupsPerDimension {
				return fmt.Errorf("%w: %q dispatch %d axis %d: %d > %d",
					ErrWorkgroupLimit, p.Entry, i, axis, n, limits.MaxComputeWorkgroupsPerDimension)
			}
		}
	}
	return nil
}

// filterPasses returns the valid passes and one error per dropped pass.
func filterPasses(passes []Pass, entries []string, limits gpucore.Limits) ([]Pass, []error) {
	valid := make([]Pass, 0, len(passes))
	var dropped []error
	for _, p := range passes {
		if err := validatePass(p, entries, limits); err != nil {
			dropped = append(dropped, err)
			continue
		}
		valid = append(valid, p)
	}
	return valid, dropped
}
