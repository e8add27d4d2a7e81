package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// readDocument reads a YAML or JSON file into a map.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// deployPayload builds the deploy body for source, which is either a
// package reference (URL) or a local file holding a CWL package or a full
// deploy body.
func deployPayload(source, id, visibility string) (map[string]any, error) {
	var unit map[string]any
	var payload map[string]any
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		unit = map[string]any{"href": source}
	} else {
		doc, err := readDocument(source)
		if err != nil {
			return nil, err
		}
		if _, ok := doc["executionUnit"]; ok {
			payload = doc
		} else {
			unit = map[string]any{"unit": doc}
		}
	}
	if payload == nil {
		payload = map[string]any{"executionUnit": []any{unit}}
	}

	if id != "" || visibility != "" {
		desc, _ := payload["processDescription"].(map[string]any)
		if desc == nil {
			desc = map[string]any{}
			payload["processDescription"] = desc
		}
		proc, _ := desc["process"].(map[string]any)
		if proc == nil {
			proc = map[string]any{}
			desc["process"] = proc
		}
		if id != "" {
			proc["id"] = id
		}
		if visibility != "" {
			proc["visibility"] = visibility
		}
	}
	return payload, nil
}

func newDeployCmd() *cobra.Command {
	var id, visibility string

	cmd := &cobra.Command{
		Use:   "deploy <package.cwl|deploy.json|URL>",
		Short: "Deploy an application package as a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := deployPayload(args[0], id, visibility)
			if err != nil {
				return err
			}
			resp, err := client.Post("/processes/", payload)
			if err != nil {
				return fmt.Errorf("deploy: %w", err)
			}
			var desc map[string]any
			if err := resp.decode(&desc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Process deployed: %v\n", desc["id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Process id (default: the package id)")
	cmd.Flags().StringVar(&visibility, "visibility", "", "public or private")
	return cmd
}

func newUndeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy <process_id>",
		Short: "Remove a deployed process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/processes/" + args[0]); err != nil {
				return fmt.Errorf("undeploy: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Process undeployed: %s\n", args[0])
			return nil
		},
	}
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <process_id>",
		Short: "Show the inputs and outputs of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/processes/" + args[0])
			if err != nil {
				return fmt.Errorf("describe: %w", err)
			}
			var desc struct {
				ID          string                    `json:"id"`
				Title       string                    `json:"title"`
				Description string                    `json:"description"`
				Visibility  string                    `json:"visibility"`
				Inputs      map[string]map[string]any `json:"inputs"`
				Outputs     map[string]map[string]any `json:"outputs"`
			}
			if err := resp.decode(&desc); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Process: %s\n", desc.ID)
			if desc.Title != "" {
				fmt.Fprintf(out, "  Title:      %s\n", desc.Title)
			}
			if desc.Description != "" {
				fmt.Fprintf(out, "  About:      %s\n", desc.Description)
			}
			fmt.Fprintf(out, "  Visibility: %s\n", desc.Visibility)
			printIO(out, "Inputs", desc.Inputs)
			printIO(out, "Outputs", desc.Outputs)
			return nil
		},
	}
}

func printIO(out io.Writer, label string, ios map[string]map[string]any) {
	if len(ios) == 0 {
		return
	}
	ids := make([]string, 0, len(ios))
	for id := range ios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(out, "  %s:\n", label)
	for _, id := range ids {
		kind := "literal"
		if schema, ok := ios[id]["schema"].(map[string]any); ok {
			if t, ok := schema["type"].(string); ok {
				kind = t
			}
			if _, ok := schema["contentMediaType"]; ok {
				kind = "file"
			}
		}
		fmt.Fprintf(out, "    - %s (%s)\n", id, kind)
	}
}

func newProcessesCmd() *cobra.Command {
	var visibility string

	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/processes/?limit=100"
			if visibility != "" {
				path += "&visibility=" + visibility
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list processes: %w", err)
			}
			var procs []struct {
				ID    string `json:"id"`
				Type  string `json:"type"`
				Title string `json:"title"`
			}
			if err := resp.decode(&procs); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-32s %-14s %s\n", "ID", "TYPE", "TITLE")
			for _, p := range procs {
				fmt.Fprintf(out, "%-32s %-14s %s\n", p.ID, p.Type, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&visibility, "visibility", "", "List public (default) or private processes")
	return cmd
}
