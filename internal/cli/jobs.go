package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/weaver/pkg/model"
)

type jobStatus struct {
	model.StatusInfo
	ParentID string     `json:"parentID"`
	Created  time.Time  `json:"created"`
	Finished *time.Time `json:"finished"`
}

func getStatus(id string) (*jobStatus, error) {
	resp, err := client.Get("/jobs/" + id)
	if err != nil {
		return nil, err
	}
	var st jobStatus
	if err := resp.decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// parseInputs merges the inputs file and key=value pairs. A value that
// parses as JSON keeps its type, anything else is a string.
func parseInputs(file string, pairs []string) (map[string]any, error) {
	inputs := map[string]any{}
	if file != "" {
		doc, err := readDocument(file)
		if err != nil {
			return nil, err
		}
		if nested, ok := doc["inputs"].(map[string]any); ok && len(doc) == 1 {
			doc = nested
		}
		for k, v := range doc {
			inputs[k] = v
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[key] = v
	}
	return inputs, nil
}

func printResults(out io.Writer, results map[string]any) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		switch v := results[id].(type) {
		case map[string]any:
			if href, ok := v["href"]; ok {
				fmt.Fprintf(out, "%s: %v\n", id, href)
				continue
			}
			if value, ok := v["value"]; ok {
				fmt.Fprintf(out, "%s: %v\n", id, value)
				continue
			}
			data, _ := json.Marshal(v)
			fmt.Fprintf(out, "%s: %s\n", id, data)
		default:
			data, _ := json.Marshal(v)
			fmt.Fprintf(out, "%s: %s\n", id, data)
		}
	}
}

func newExecuteCmd() *cobra.Command {
	var (
		inputsFile string
		pairs      []string
		syncMode   bool
		wait       bool
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "execute <process_id>",
		Short: "Execute a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputsFile, pairs)
			if err != nil {
				return err
			}
			req := model.SubmitRequest{Inputs: inputs, Mode: model.ExecutionModeAsync}
			if syncMode {
				req.Mode = model.ExecutionModeSync
			}

			resp, err := client.Post("/processes/"+args[0]+"/execution", req)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			out := cmd.OutOrStdout()

			if syncMode {
				var results map[string]any
				if err := resp.decode(&results); err != nil {
					return err
				}
				// A failed sync job answers with its status document.
				if _, ok := results["jobID"]; ok {
					return fmt.Errorf("job %v %v: %v", results["jobID"], results["status"], results["message"])
				}
				printResults(out, results)
				return nil
			}

			var st jobStatus
			if err := resp.decode(&st); err != nil {
				return err
			}
			fmt.Fprintf(out, "Job accepted: %s\n", st.JobID)
			if !wait {
				return nil
			}

			final, err := waitForJob(cmd, st.JobID, interval)
			if err != nil {
				return err
			}
			if final.Status != model.StatusSucceeded {
				return fmt.Errorf("job %s %s: %s", final.JobID, final.Status, final.Message)
			}
			return showResults(out, final.JobID)
		},
	}
	cmd.Flags().StringVarP(&inputsFile, "inputs", "i", "", "YAML or JSON file with the job inputs")
	cmd.Flags().StringArrayVar(&pairs, "input", nil, "Input as key=value (repeatable)")
	cmd.Flags().BoolVar(&syncMode, "sync", false, "Execute synchronously and print the results")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --wait")
	return cmd
}

func waitForJob(cmd *cobra.Command, id string, interval time.Duration) (*jobStatus, error) {
	ctx := cmd.Context()
	var last string
	for {
		st, err := getStatus(id)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		line := fmt.Sprintf("%s %d%%", st.Status, st.Progress)
		if line != last {
			logger.Info("job progress", "id", id, "status", st.Status, "progress", st.Progress)
			last = line
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func showResults(out io.Writer, id string) error {
	resp, err := client.Get("/jobs/" + id + "/results")
	if err != nil {
		return fmt.Errorf("get results: %w", err)
	}
	var results map[string]any
	if err := resp.decode(&results); err != nil {
		return err
	}
	printResults(out, results)
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := getStatus(args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job: %s\n", st.JobID)
			fmt.Fprintf(out, "  Process:  %s\n", st.ProcessID)
			fmt.Fprintf(out, "  Status:   %s\n", st.Status)
			fmt.Fprintf(out, "  Progress: %d%%\n", st.Progress)
			if st.Message != "" {
				fmt.Fprintf(out, "  Message:  %s\n", st.Message)
			}
			if st.ParentID != "" {
				fmt.Fprintf(out, "  Parent:   %s\n", st.ParentID)
			}
			fmt.Fprintf(out, "  Created:  %s\n", st.Created.Format(time.RFC3339))
			if st.Finished != nil {
				fmt.Fprintf(out, "  Finished: %s\n", st.Finished.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newJobsCmd() *cobra.Command {
	var status, process, parent string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", fmt.Sprint(limit))
			if status != "" {
				q.Set("status", status)
			}
			if process != "" {
				q.Set("process", process)
			}
			if parent != "" {
				q.Set("parent", parent)
			}
			resp, err := client.Get("/jobs/?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			var jobs []jobStatus
			if err := resp.decode(&jobs); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s %-24s %-10s %5s\n", "ID", "PROCESS", "STATUS", "PROG")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-36s %-24s %-10s %4d%%\n", j.JobID, j.ProcessID, j.Status, j.Progress)
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "(%d of %d shown)\n", len(jobs), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&process, "process", "", "Filter by process id")
	cmd.Flags().StringVar(&parent, "parent", "", "List the step jobs of a workflow job")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	return cmd
}

func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <job_id>",
		Short: "Show the results of a succeeded job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showResults(cmd.OutOrStdout(), args[0])
		},
	}
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <job_id>",
		Short: "Print the log of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/jobs/" + args[0] + "/logs")
			if err != nil {
				return fmt.Errorf("get logs: %w", err)
			}
			var lines []string
			if err := resp.decode(&lines); err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <job_id>",
		Short: "Dismiss a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Delete("/jobs/" + args[0])
			if err != nil {
				return fmt.Errorf("dismiss: %w", err)
			}
			var st jobStatus
			if err := resp.decode(&st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", st.JobID, st.Status)
			return nil
		},
	}
}
