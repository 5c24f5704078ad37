package bundle

import (
	"fmt"
	"strings"
)

// EntityName renders sub-{subject}_[ses-{session}_]task-{task}_[acq-{acq}_][run-{run}_]{suffix}.
// Downstream tooling locates files by this pattern.
func EntityName(r RunRef, suffix string) string {
	var b strings.Builder
	b.WriteString("sub-")
	b.WriteString(r.Subject)
	b.WriteString("_")
	if r.Session != "" {
		b.WriteString("ses-" + r.Session + "_")
	}
	b.WriteString("task-" + r.Task + "_")
	if r.Acquisition != "" {
		b.WriteString("acq-" + r.Acquisition + "_")
	}
	if r.Number != nil {
		fmt.Fprintf(&b, "run-%d_", *r.Number)
	}
	b.WriteString(suffix)
	return b.String()
}

// EventsPath is the archive-relative path of one predictor's events for one run.
func EventsPath(predictor string, r RunRef) string {
	return "func/" + predictor + "/" + EntityName(r, "events.tsv")
}

func validEntity(r RunRef) error {
	if r.Subject == "" || r.Task == "" {
		return fmt.Errorf("run %s lacks subject or task", r.ID)
	}
	for _, v := range []string{r.Subject, r.Session, r.Task, r.Acquisition} {
		if strings.ContainsAny(v, "/\\_") {
			return fmt.Errorf("run %s: entity %q contains a path or entity separator", r.ID, v)
		}
	}
	return nil
}
