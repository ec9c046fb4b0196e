// Subcommands under "jobs" — submit/get/list/cancel/watch — grounded in
// cmd/ffrtmp/cmd/jobs.go's command tree and its tablewriter/JSON dual
// output, restated against this process's own batch.Manager instead of an
// HTTP client, since catalogjobsctl talks to the same backing store
// catalogjobsd does rather than to an API.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

var (
	submitCatalogID string
	submitParamsRaw string

	listCatalogID string
	listStatus    string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and inspect catalog jobs",
	Long:  `Commands for submitting, listing, and cancelling catalog jobs against the configured backing store.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <job-type>",
	Short: "Submit a job",
	Long:  `Create a pending job row for catalogjobsd's pending-job poller to pick up.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSubmit,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Get a job's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Poll a job's status until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsWatch,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsWatchCmd)

	jobsSubmitCmd.Flags().StringVar(&submitCatalogID, "catalog", "", "catalog ID the job runs against (required)")
	jobsSubmitCmd.Flags().StringVar(&submitParamsRaw, "params", "", "job parameters as a JSON object")
	jobsSubmitCmd.MarkFlagRequired("catalog")

	jobsListCmd.Flags().StringVar(&listCatalogID, "catalog", "", "filter by catalog ID")
	jobsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, running, success, failed, cancelled)")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	jobType := args[0]

	gw, bs, err := openStores()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer gw.Close()

	registry := newRegistry(gw)
	if _, ok := registry.Get(jobType); !ok {
		return fmt.Errorf("unknown job type %q (known: %s)", jobType, strings.Join(registry.List(), ", "))
	}

	var params map[string]interface{}
	if submitParamsRaw != "" {
		if err := json.Unmarshal([]byte(submitParamsRaw), &params); err != nil {
			return fmt.Errorf("--params is not valid JSON: %w", err)
		}
	}

	mgr := batch.New(bs)
	defer mgr.Close()

	job := &models.Job{
		ID:         uuid.NewString(),
		CatalogID:  submitCatalogID,
		JobType:    jobType,
		Status:     models.JobStatusPending,
		Parameters: params,
	}
	if err := mgr.CreateJob(cmd.Context(), job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	// Submission only writes the row — catalogjobsd's pending-job poller is
	// what actually runs it, since this process exits right after.
	if IsJSONOutput() {
		return printJSON(job)
	}
	fmt.Printf("Submitted job %s (%s)\n", job.ID, jobType)
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	bs, err := openBatchStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := batch.New(bs)
	defer mgr.Close()

	job, err := mgr.GetJob(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	return displayJob(job)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	bs, err := openBatchStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := batch.New(bs)
	defer mgr.Close()

	jobList, err := mgr.ListJobs(cmd.Context(), listCatalogID, models.JobStatus(listStatus))
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(jobList)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Catalog", "Type", "Status", "Progress", "Created")
	for _, job := range jobList {
		progress := "-"
		if job.Progress != nil && job.Progress.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress.Processed, job.Progress.Total)
		}
		table.Append(job.ID, job.CatalogID, job.JobType, string(job.Status), progress, job.CreatedAt.Format("2006-01-02 15:04"))
	}
	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", len(jobList))
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	bs, err := openBatchStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := batch.New(bs)
	defer mgr.Close()

	job, err := mgr.GetJob(cmd.Context(), jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if models.IsTerminalJobStatus(job.Status) {
		fmt.Printf("Job %s is already %s\n", jobID, job.Status)
		return nil
	}

	// Cancelling from this process only ever writes the store-side signal
	// (batches marked cancelled, job status flipped to cancelled) —
	// catalogjobsd's executor is the one that actually observes it and
	// stops, whether it's running in the same process or not
	// (pkg/executor's per-item persisted-status check covers both).
	if err := mgr.CancelJobBatches(cmd.Context(), jobID); err != nil {
		return fmt.Errorf("cancel batches: %w", err)
	}
	if err := mgr.UpdateJobStatus(cmd.Context(), jobID, models.JobStatusCancelled, ""); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}

	fmt.Printf("Cancellation requested for job %s\n", jobID)
	return nil
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	bs, err := openBatchStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := batch.New(bs)
	defer mgr.Close()

	fmt.Printf("Watching job %s (press Ctrl+C to stop)...\n\n", jobID)
	for {
		job, err := mgr.GetJob(cmd.Context(), jobID)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		fmt.Print("\033[H\033[2J")
		displayJob(job)

		if models.IsTerminalJobStatus(job.Status) {
			fmt.Println("\nJob reached a terminal state.")
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func displayJob(job *models.Job) error {
	if IsJSONOutput() {
		return printJSON(job)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Catalog", job.CatalogID)
	table.Append("Type", job.JobType)
	table.Append("Status", string(job.Status))
	if job.Progress != nil {
		table.Append("Progress", fmt.Sprintf("%d/%d (success=%d error=%d)", job.Progress.Processed, job.Progress.Total, job.Progress.Success, job.Progress.Error))
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.EndedAt != nil {
		table.Append("Ended At", job.EndedAt.Format(time.RFC3339))
	}
	if job.Error != "" {
		table.Append("Error", job.Error)
	}
	if len(job.Result) > 0 {
		resultJSON, _ := json.MarshalIndent(job.Result, "", "  ")
		table.Append("Result", string(resultJSON))
	}
	table.Render()
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
