package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"media-gen-orchestrator/internal/domain/model"
	ports "media-gen-orchestrator/internal/domain/ports/usecase"
	"media-gen-orchestrator/internal/infra/clock"
	"media-gen-orchestrator/internal/usecase"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the registered provider models and their options",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEnv(cmd)
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cmd.Context(), e.cfg, nil, e)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tMODEL\tOPTIONS")
		for _, m := range reg.Models() {
			names := make([]string, 0, len(m.Options))
			for _, o := range m.Options {
				names = append(names, o.Name)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Provider, m.Name, strings.Join(names, ","))
		}
		return tw.Flush()
	},
}

var (
	submitProvider string
	submitModel    string
	submitOptions  map[string]string
	submitWait     bool

	submitCmd = &cobra.Command{
		Use:   "submit PROMPT",
		Short: "Accept a generation request into the job store",
		Long: `submit validates the request and stores it as a queued job. A running
'serve' instance sharing the store picks it up. With --wait the job is driven
to completion in this process instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := getEnv(cmd)
			if err != nil {
				return err
			}
			s, err := buildServices(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer s.Close()

			var tracker ports.JobTracker
			scheduler := newScheduler(e, s)
			if submitWait {
				tracker = scheduler
			}
			uc := usecase.NewGenerationUseCase(s.repo, s.registry, tracker, clock.Real{}, e.log)
			job, err := uc.SubmitGeneration(cmd.Context(), model.GenerationRequest{
				Prompt:   args[0],
				Provider: model.ParseProvider(submitProvider),
				Model:    submitModel,
				Options:  submitOptions,
			})
			if err != nil {
				return err
			}
			if !submitWait {
				return printJob(cmd, job)
			}

			tick := e.cfg.Orchestrator.TickInterval
			for !job.State.IsTerminal() {
				if err := scheduler.RunOnce(cmd.Context()); err != nil {
					return err
				}
				if job, err = s.repo.Get(cmd.Context(), job.ID); err != nil {
					return err
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(tick):
				}
			}
			return printJob(cmd, job)
		},
	}
)

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Print the current snapshot of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEnv(cmd)
		if err != nil {
			return err
		}
		s, err := buildServices(cmd.Context(), e)
		if err != nil {
			return err
		}
		defer s.Close()

		job, err := s.repo.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJob(cmd, job)
	},
}

func printJob(cmd *cobra.Command, job *model.GenerationJob) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func init() {
	submitCmd.Flags().StringVarP(&submitProvider, "provider", "p", "simulated", "provider name")
	submitCmd.Flags().StringVarP(&submitModel, "model", "m", "sim-video", "model name")
	submitCmd.Flags().StringToStringVarP(&submitOptions, "option", "o", nil, "model option key=value (repeatable)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "drive the job to completion in this process")

	rootCmd.AddCommand(modelsCmd, submitCmd, statusCmd)
}
