package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

const timeLayout = "2006-01-02 15:04:05"

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair jobs in the ledger",
	}

	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsRedispatchCommand(ctx))
	jobsCmd.AddCommand(newJobsReclaimCommand(ctx))
	jobsCmd.AddCommand(newJobsFailCommand(ctx))

	return jobsCmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show every field of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd.Context(), func(s *session) error {
				job, err := findJob(cmd, s, id)
				if err != nil {
					return err
				}

				rows := [][]string{
					{"ID", strconv.FormatUint(job.ID, 10)},
					{"Status", string(job.Status)},
					{"Created", job.CreatedAt.Format(timeLayout)},
					{"Updated", job.LastUpdated().Format(timeLayout)},
					{"Attempts", strconv.Itoa(job.Attempts)},
					{"Claimed", formatTime(job.ClaimedAt)},
					{"Text", deref(job.PathText)},
					{"Audio input", deref(job.PathAudioInput)},
					{"Audio output", deref(job.PathAudioOutput)},
					{"Video input", deref(job.PathVideoInput)},
					{"Video output", deref(job.PathVideoOutput)},
					{"Error", deref(job.ErrorMessage)},
				}
				if len(job.InferenceParams) > 0 {
					rows = append(rows, []string{"Inference params", string(job.InferenceParams)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := entity.JobStatus(strings.ToUpper(strings.TrimSpace(status)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}

			return ctx.withSession(cmd.Context(), func(s *session) error {
				jobs, err := s.Jobs.List(cmd.Context(), filter, limit)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for idx := range jobs {
					job := &jobs[idx]
					rows = append(rows, []string{
						strconv.FormatUint(job.ID, 10),
						string(job.Status),
						strconv.Itoa(job.Attempts),
						job.LastUpdated().Format(timeLayout),
						truncate(deref(job.ErrorMessage), 60),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Attempts", "Updated", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Only list jobs in this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(s *session) error {
				stats, err := s.Jobs.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("job stats: %w", err)
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
					return nil
				}

				statuses := make([]string, 0, len(stats))
				for status := range stats {
					statuses = append(statuses, string(status))
				}
				sort.Strings(statuses)
				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					rows = append(rows, []string{status, strconv.FormatInt(stats[entity.JobStatus(status)], 10)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobsRedispatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "redispatch <id>",
		Short: "Publish a job to the audio queue again",
		Long: "Publishes a SUBMITTED job, or one stuck in PROCESSING_AUDIO, to the dispatch queue. " +
			"The audio consumer only takes over a PROCESSING_AUDIO job once its claim is stale.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withSession(cmd.Context(), func(s *session) error {
				job, err := findJob(cmd, s, id)
				if err != nil {
					return err
				}
				if job.Status != entity.JobStatusSubmitted && job.Status != entity.JobStatusProcessingAudio {
					return fmt.Errorf("job %d is %s, only SUBMITTED or PROCESSING_AUDIO jobs can be redispatched", id, job.Status)
				}

				if err := s.Dispatcher.Dispatch(cmd.Context(), id); err != nil {
					return fmt.Errorf("dispatch job %d: %w", id, err)
				}
				if _, err := s.Jobs.Touch(cmd.Context(), id, job.Status); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: job %d dispatched but not touched: %v\n", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d redispatched (%s)\n", id, job.Status)
				return nil
			})
		},
	}
}

func newJobsReclaimCommand(ctx *commandContext) *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Run one stale claim and orphan sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(s *session) error {
				report := s.Sweeper(staleAfter).RunCycle(cmd.Context())
				rows := [][]string{
					{"Rescheduled", strconv.Itoa(report.Rescheduled)},
					{"Redispatched", strconv.Itoa(report.Redispatched)},
					{"Abandoned", strconv.Itoa(report.Abandoned)},
					{"Orphans", strconv.Itoa(report.Orphans)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Action", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Claim age considered stale (defaults to STALE_CLAIM_AFTER)")
	return cmd
}

func newJobsFailCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark an unfinished job as FAILED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			reason = strings.TrimSpace(reason)
			if reason == "" {
				return errors.New("--reason is required")
			}

			return ctx.withSession(cmd.Context(), func(s *session) error {
				job, err := findJob(cmd, s, id)
				if err != nil {
					return err
				}
				if job.Status.IsTerminal() {
					return fmt.Errorf("job %d is already %s", id, job.Status)
				}

				ok, err := s.Jobs.Fail(cmd.Context(), id, job.Status, reason)
				if err != nil {
					return fmt.Errorf("fail job %d: %w", id, err)
				}
				if !ok {
					return fmt.Errorf("job %d left %s while failing it, try again", id, job.Status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d marked FAILED (was %s)\n", id, job.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Error message recorded on the job")
	return cmd
}

func findJob(cmd *cobra.Command, s *session, id uint64) (*entity.Job, error) {
	job, err := s.Jobs.FindByID(cmd.Context(), id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", id, err)
	}
	return job, nil
}

func parseJobID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func deref(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}

func formatTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.Format(timeLayout)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
