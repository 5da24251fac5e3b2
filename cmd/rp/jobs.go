package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/session"
)

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobUpdateCmd())
	job.AddCommand(jobToggleCmd("activate", true))
	job.AddCommand(jobToggleCmd("deactivate", false))
	return job
}

func jobCreateCmd() *cobra.Command {
	var in engine.JobInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create job (hr)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				j, err := e.CreateJob(ctx, s, in)
				if err != nil {
					return err
				}
				return printJobs([]domain.Job{j})
			})
		},
	}
	cmd.Flags().StringVar(&in.Code, "code", "", "job code, e.g. ENG-101")
	cmd.Flags().StringVar(&in.Title, "title", "", "job title")
	cmd.Flags().StringVar(&in.Department, "department", "", "department")
	cmd.Flags().BoolVar(&in.Inactive, "inactive", false, "create closed for referrals")
	return cmd
}

func jobListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs open for referrals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					items, err := e.ListActiveJobs(ctx)
					if err != nil {
						return err
					}
					return printJobs(items)
				})
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				items, err := e.ListAllJobs(ctx, s)
				if err != nil {
					return err
				}
				return printJobs(items)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive jobs (hr)")
	return cmd
}

func jobUpdateCmd() *cobra.Command {
	var code, title, department string
	cmd := &cobra.Command{
		Use:   "update <id-or-code>",
		Short: "Update job (hr)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.JobPatch
			if cmd.Flags().Changed("code") {
				patch.Code = &code
			}
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("department") {
				patch.Department = optionalString(department)
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				j, err := e.UpdateJob(ctx, s, args[0], patch)
				if err != nil {
					return err
				}
				return printJobs([]domain.Job{j})
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "new job code")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&department, "department", "", "new department")
	return cmd
}

func jobToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id-or-code>",
		Short: "Open or close a job for referrals (hr)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				j, err := e.SetJobActive(ctx, s, args[0], active)
				if err != nil {
					return err
				}
				return printJobs([]domain.Job{j})
			})
		},
	}
}

func printJobs(items []domain.Job) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Code", "Title", "Department", "Active"})
	for _, j := range items {
		tw.AppendRow(table.Row{j.ID, j.Code, j.Title, j.Department, j.IsActive})
	}
	tw.Render()
	return nil
}
