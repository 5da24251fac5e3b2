package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/feed"
	"refportal/internal/session"
	"refportal/internal/view"
)

func referralCmd() *cobra.Command {
	ref := &cobra.Command{
		Use:   "referral",
		Short: "Refer candidates and track their status",
		Long:  "Statuses: submitted, screening, interview, offer, hired, rejected. HR may move a referral to any other status; rejecting needs a note.",
	}
	ref.AddCommand(referralCreateCmd())
	ref.AddCommand(referralListCmd())
	ref.AddCommand(referralShowCmd())
	ref.AddCommand(referralHistoryCmd())
	ref.AddCommand(referralTransitionCmd())
	ref.AddCommand(referralWatchCmd())
	return ref
}

func referralCreateCmd() *cobra.Command {
	var opts engine.ReferralCreateOptions
	var resume string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Refer a candidate to one or more jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume != "" {
				data, err := os.ReadFile(resume)
				if err != nil {
					return fmt.Errorf("read resume: %w", err)
				}
				opts.Resume = &engine.ResumeUpload{Name: filepath.Base(resume), Data: data}
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				batch, err := e.CreateReferrals(ctx, s, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(batch)
				}
				if batch.AttachmentSkipped {
					fmt.Fprintf(os.Stderr, "warning: resume not attached: %s\n", batch.AttachmentError)
				}
				return printReferrals(batch.Referrals, s.IsHR())
			})
		},
	}
	c := &opts.Candidate
	cmd.Flags().StringVar(&c.FirstName, "first-name", "", "candidate first name")
	cmd.Flags().StringVar(&c.MiddleName, "middle-name", "", "candidate middle name")
	cmd.Flags().StringVar(&c.LastName, "last-name", "", "candidate last name")
	cmd.Flags().StringVar(&c.Phone, "phone", "", "candidate phone")
	cmd.Flags().StringVar(&c.Email, "email", "", "candidate email")
	cmd.Flags().StringVar(&c.DOB, "dob", "", "candidate date of birth (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&opts.JobIDs, "job", nil, "job id or code (repeatable)")
	cmd.Flags().StringVar(&opts.HowKnowCandidate, "how-know", "", "how you know the candidate")
	cmd.Flags().StringVar(&resume, "resume", "", "resume file (pdf, doc, docx)")
	return cmd
}

func criteriaFlags(cmd *cobra.Command, c *view.Criteria) {
	cmd.Flags().StringVar(&c.Search, "search", "", "search candidate, job or referrer")
	cmd.Flags().StringVar(&c.Status, "status", view.All, "status filter")
	cmd.Flags().StringVar(&c.JobID, "job", view.All, "job id filter")
}

func referralListCmd() *cobra.Command {
	var c view.Criteria
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible referrals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				q, err := e.QueryReferrals(ctx, s, c)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				return printReferrals(q.Referrals, s.IsHR())
			})
		},
	}
	criteriaFlags(cmd, &c)
	return cmd
}

func referralShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show referral",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				ref, err := e.GetReferral(ctx, s, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ref)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"ID", ref.ID},
					{"Candidate", view.FullName(ref.Candidate)},
					{"Email", ref.Candidate.Email},
					{"Phone", ref.Candidate.Phone},
					{"Date of birth", ref.Candidate.DOB},
					{"Job", ref.JobCode + " " + ref.JobTitle},
					{"Referred by", ref.ReferrerName},
					{"How they know", ref.HowKnowCandidate},
					{"Status", ref.CurrentStatus.Label()},
					{"Resume", derefOr(ref.ResumeRef, "-")},
					{"Created", ref.CreatedAt},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func referralHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show status history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				items, err := e.GetStatusHistory(ctx, s, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Status", "Changed by", "Note", "At"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.Seq, h.Status.Label(), h.ChangedByName, derefOr(h.Note, ""), h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func referralTransitionCmd() *cobra.Command {
	var opts engine.TransitionOptions
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Change referral status (hr)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ReferralID = args[0]
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				res, err := e.TransitionReferral(ctx, s, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s is now %s\n", res.Referral.ID, res.Referral.CurrentStatus.Label())
				if next, ok := res.Referral.CurrentStatus.NextSuggested(); ok {
					fmt.Printf("next step: %s\n", next.Label())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "new status")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note (required when rejecting)")
	return cmd
}

// referralWatchCmd redraws the filtered list on every change. With
// --redis-url (or REFPORTAL_REDIS_URL) it follows changes made by other
// processes; otherwise it re-polls on --interval.
func referralWatchCmd() *cobra.Command {
	var c view.Criteria
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow visible referrals as they change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s session.Session) error {
				c.IncludeReferrer = s.IsHR()
				live := view.NewLive(func(ctx context.Context) ([]domain.Referral, error) {
					return e.ListReferralsForActor(ctx, s)
				}, c, func(snap view.Snapshot) {
					if viper.GetBool("json") {
						_ = printJSON(snap.Referrals)
						return
					}
					fmt.Printf("\n%s  %d of %d referrals\n", time.Now().Format(time.TimeOnly), len(snap.Referrals), len(snap.All))
					_ = printReferrals(snap.Referrals, s.IsHR())
				})

				filter := feed.Filter{}
				if !s.IsHR() {
					filter.ReferrerID = s.ActorID()
				}
				g, gctx := errgroup.WithContext(ctx)
				if rf, ok := e.Feed.(*feed.RedisFeed); ok {
					g.Go(func() error { return rf.Run(gctx) })
				} else if interval > 0 {
					g.Go(func() error {
						ticker := time.NewTicker(interval)
						defer ticker.Stop()
						for {
							select {
							case <-gctx.Done():
								return nil
							case <-ticker.C:
								if _, err := live.Refresh(gctx); err != nil && !errors.Is(err, view.ErrSuperseded) && gctx.Err() == nil {
									return err
								}
							}
						}
					})
				}
				g.Go(func() error { return live.Run(gctx, e.Feed, filter) })
				return g.Wait()
			})
		},
	}
	criteriaFlags(cmd, &c)
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval without redis (0 disables)")
	return cmd
}

func printReferrals(items []domain.Referral, hr bool) error {
	tw := newTable()
	header := table.Row{"ID", "Candidate", "Job", "Status", "Created"}
	if hr {
		header = append(header, "Referred by")
	}
	tw.AppendHeader(header)
	for _, r := range items {
		row := table.Row{r.ID, view.FullName(r.Candidate), r.JobCode, r.CurrentStatus.Label(), r.CreatedAt}
		if hr {
			row = append(row, r.ReferrerName)
		}
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
