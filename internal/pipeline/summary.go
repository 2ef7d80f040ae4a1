package pipeline

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/provision/internal/core"
)

// Render writes the run summary as a table followed by the secondary
// counters and the user-facing message of every failed step.
func (s *Summary) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tCREATED\tUPDATED\tSKIPPED\tFAILED\tDURATION")
	for _, st := range s.Steps {
		c, u, sk, f := "-", "-", "-", "-"
		if st.Result != nil {
			c, u, sk, f = itoa(st.Result.Created), itoa(st.Result.Updated), itoa(st.Result.Skipped), itoa(st.Result.Failed)
		}
		dur := "-"
		if st.Status == StatusOK || st.Status == StatusFailed {
			dur = st.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", st.Name, st.Status, c, u, sk, f, dur)
	}
	created, updated, skipped, failed := s.Totals()
	fmt.Fprintf(tw, "TOTAL\t\t%d\t%d\t%d\t%d\t%s\n", created, updated, skipped, failed, s.Duration.Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, st := range s.Steps {
		if st.Result == nil || len(st.Result.Counters) == 0 {
			continue
		}
		parts := make([]string, 0, len(st.Result.Counters))
		for _, name := range st.Result.CounterNames() {
			parts = append(parts, fmt.Sprintf("%s=%d", name, st.Result.Count(name)))
		}
		fmt.Fprintf(w, "%s: %s\n", st.Name, strings.Join(parts, " "))
	}

	for _, st := range s.Steps {
		if st.Status == StatusFailed && st.Err != nil {
			fmt.Fprintf(w, "%s failed: %s\n", st.Name, core.FormatUserError(st.Err))
			if !core.IsUserFacing(st.Err) {
				fmt.Fprintf(w, "  %v\n", st.Err)
			}
		}
	}
	if s.Interrupted {
		fmt.Fprintln(w, "Run interrupted; remaining steps were not started.")
	}
	return nil
}

func itoa(n int) string { return fmt.Sprint(n) }
