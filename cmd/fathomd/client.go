package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Flag storage for the client subcommands.
var (
	flagProject     string
	flagDataset     string
	flagDatasets    []string
	flagRepo        string
	flagBranch      string
	flagForce       bool
	flagIncremental bool
	flagTopK        int
	flagThreshold   float32
	flagGlobal      bool
	flagLang        string
	flagPathPrefix  string
	flagDetails     bool
)

var indexCmd = &cobra.Command{
	Use:   "index <path|url>",
	Short: "Index a codebase into a dataset",
	Long: `Index a local directory or a remote git repository.

Examples:
  # Index the current tree
  fathomd index . --project acme --dataset local

  # Incrementally reindex only what changed
  fathomd index . --project acme --dataset local --incremental

  # Clone and index a repository branch
  fathomd index https://github.com/acme/app.git --project acme --dataset main --branch main`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search indexed datasets",
	Long: `Run a natural-language search across the project's datasets.

Examples:
  # Search one project
  fathomd query "token refresh logic" --project acme

  # Search selected datasets, including the global scope
  fathomd query "retry backoff" --project acme --datasets docs,ver:latest --global

  # Search everything
  fathomd query "circuit breaker" --project all`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var statusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Report index freshness for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a dataset's index",
	RunE:  runClear,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check fathomd server health",
	RunE:  runHealth,
}

func init() {
	indexCmd.Flags().StringVar(&flagProject, "project", "", "project name (empty for global scope)")
	indexCmd.Flags().StringVar(&flagDataset, "dataset", "", "dataset name")
	indexCmd.Flags().StringVar(&flagRepo, "repo", "", "repository provenance recorded on chunks")
	indexCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to clone for remote sources")
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "drop the existing index first")
	indexCmd.Flags().BoolVar(&flagIncremental, "incremental", false, "reindex only changed files")
	_ = indexCmd.MarkFlagRequired("dataset")

	queryCmd.Flags().StringVar(&flagProject, "project", "", `project name, or "all"`)
	queryCmd.Flags().StringSliceVar(&flagDatasets, "datasets", nil, "dataset selector: names, globs or aliases")
	queryCmd.Flags().IntVar(&flagTopK, "top-k", 0, "result count (default 10)")
	queryCmd.Flags().Float32Var(&flagThreshold, "threshold", 0, "minimum score")
	queryCmd.Flags().BoolVar(&flagGlobal, "global", false, "include global datasets")
	queryCmd.Flags().StringVar(&flagLang, "lang", "", "filter by language")
	queryCmd.Flags().StringVar(&flagPathPrefix, "path-prefix", "", "filter by path prefix")
	queryCmd.Flags().StringVar(&flagRepo, "repo", "", "filter by repository")

	statusCmd.Flags().StringVar(&flagProject, "project", "", "project name")
	statusCmd.Flags().StringVar(&flagDataset, "dataset", "", "dataset name")
	statusCmd.Flags().BoolVar(&flagDetails, "details", false, "list affected files")
	_ = statusCmd.MarkFlagRequired("dataset")

	clearCmd.Flags().StringVar(&flagProject, "project", "", "project name")
	clearCmd.Flags().StringVar(&flagDataset, "dataset", "", "dataset name")
	_ = clearCmd.MarkFlagRequired("dataset")
}

func runIndex(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"project":     flagProject,
		"dataset":     flagDataset,
		"repo":        flagRepo,
		"branch":      flagBranch,
		"force":       flagForce,
		"incremental": flagIncremental,
	}
	if isRemote(args[0]) {
		body["url"] = args[0]
	} else {
		body["path"] = args[0]
	}

	// Cloning and embedding large trees takes a while.
	return postJSON("/api/v1/index", body, 30*time.Minute)
}

func runQuery(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"project":        flagProject,
		"query":          args[0],
		"include_global": flagGlobal,
	}
	if len(flagDatasets) > 0 {
		body["dataset"] = flagDatasets
	}
	if flagTopK > 0 {
		body["top_k"] = flagTopK
	}
	if flagThreshold > 0 {
		body["threshold"] = flagThreshold
	}
	if flagLang != "" {
		body["lang"] = flagLang
	}
	if flagPathPrefix != "" {
		body["path_prefix"] = flagPathPrefix
	}
	if flagRepo != "" {
		body["repo"] = flagRepo
	}
	return postJSON("/api/v1/query", body, 60*time.Second)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return postJSON("/api/v1/status", map[string]any{
		"path":            args[0],
		"project":         flagProject,
		"dataset":         flagDataset,
		"include_details": flagDetails,
	}, 60*time.Second)
}

func runClear(cmd *cobra.Command, args []string) error {
	return postJSON("/api/v1/clear", map[string]any{
		"project": flagProject,
		"dataset": flagDataset,
	}, 60*time.Second)
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	fmt.Printf("Server Status: ok\n")
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// isRemote reports whether the index source is a URL rather than a path.
func isRemote(source string) bool {
	for _, prefix := range []string{"http://", "https://", "git://", "ssh://", "git@"} {
		if len(source) > len(prefix) && source[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// postJSON sends a request to the server and pretty-prints the JSON reply.
func postJSON(path string, body any, timeout time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		// Not JSON; print as-is.
		fmt.Println(string(raw))
		return nil
	}
	pretty.WriteTo(os.Stdout)
	fmt.Println()
	return nil
}
