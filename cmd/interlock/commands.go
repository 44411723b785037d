package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/interlock/client"
)

func reserveCmd(g *globals) *cobra.Command {
	var (
		mode, priority, reason, task string
		ttl                          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reserve <pattern>...",
		Short: "Reserve file patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(true)
			if err != nil {
				return err
			}
			p := printer(cmd)
			res, err := c.Reserve(cmd.Context(), client.ReserveRequest{
				Patterns:   args,
				Mode:       mode,
				TTLSeconds: int(ttl / time.Second),
				Priority:   priority,
				Metadata:   client.Metadata{Reason: reason, TaskID: task},
			})
			if err != nil {
				return p.Error(err.Error())
			}
			if !res.Granted {
				for _, cf := range res.Conflicts {
					p.Conflict(cf)
				}
				return p.Error(fmt.Sprintf("reservation denied: %d conflict(s)", len(res.Conflicts)))
			}
			p.Success("reserved %s", res.Reservation.ID)
			p.Reservation(*res.Reservation)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&mode, "mode", "", "exclusive or shared (default exclusive)")
	f.DurationVar(&ttl, "ttl", 0, "lease duration (default from server config)")
	f.StringVar(&priority, "priority", "", "request tier P0-P4")
	f.StringVar(&reason, "reason", "", "why the files are needed")
	f.StringVar(&task, "task", "", "task id")
	return cmd
}

func checkCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>...",
		Short: "Check whether the agent may write paths",
		Long:  "Exits non-zero when any path is held by another agent.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(true)
			if err != nil {
				return err
			}
			p := printer(cmd)
			resp, err := c.Check(cmd.Context(), args...)
			if err != nil {
				return p.Error(err.Error())
			}
			p.Check(resp)
			if !resp.Allowed {
				return fmt.Errorf("paths reserved by another agent")
			}
			return nil
		},
	}
}

func releaseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "release <reservation-id>",
		Short: "Release a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			p := printer(cmd)
			if err := c.Release(cmd.Context(), args[0]); err != nil {
				return p.Error(err.Error())
			}
			p.Success("released %s", args[0])
			return nil
		},
	}
}

func renewCmd(g *globals) *cobra.Command {
	var extend time.Duration
	cmd := &cobra.Command{
		Use:   "renew <reservation-id>",
		Short: "Extend a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			p := printer(cmd)
			res, err := c.Renew(cmd.Context(), args[0], extend)
			if err != nil {
				return p.Error(err.Error())
			}
			p.Success("renewed %s (renewal %d), expires %s", res.ID, res.RenewCount, res.NewExpiresAt.Local().Format(time.Kitchen))
			return nil
		},
	}
	cmd.Flags().DurationVar(&extend, "extend", 0, "additional time (default the original ttl)")
	return cmd
}

func listCmd(g *globals) *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			p := printer(cmd)
			page, err := c.ListReservations(cmd.Context(), opts)
			if err != nil {
				return p.Error(err.Error())
			}
			if len(page.Reservations) == 0 {
				p.Warning("no active reservations")
				return nil
			}
			for _, r := range page.Reservations {
				p.Reservation(r)
			}
			if page.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "more: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Agent, "holder", "", "only leases held by this agent")
	f.StringVar(&opts.Mode, "mode", "", "only exclusive or shared leases")
	f.StringVar(&opts.Cursor, "cursor", "", "continue after a previous page")
	f.IntVar(&opts.Limit, "limit", 0, "page size")
	return cmd
}

func statsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show reservation and conflict counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			p := printer(cmd)
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return p.Error(err.Error())
			}
			p.Stats(stats)
			return nil
		},
	}
}

func conflictsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve conflicts",
	}

	var opts client.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List conflicts of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(true)
			if err != nil {
				return err
			}
			p := printer(cmd)
			page, err := c.ListConflicts(cmd.Context(), opts)
			if err != nil {
				return p.Error(err.Error())
			}
			if len(page.Conflicts) == 0 {
				p.Warning("no conflicts")
				return nil
			}
			for _, cf := range page.Conflicts {
				p.Conflict(cf)
			}
			if page.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "more: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	list.Flags().StringVar(&opts.Status, "status", "", "open or resolved")
	list.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after a previous page")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "page size")

	show := &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show one conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			p := printer(cmd)
			cf, err := c.GetConflict(cmd.Context(), args[0])
			if err != nil {
				return p.Error(err.Error())
			}
			p.Conflict(cf)
			return nil
		},
	}

	var reason string
	resolve := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Mark a conflict resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client(false)
			if err != nil {
				return err
			}
			if c.AgentID == "" {
				return fmt.Errorf("agent required: pass --agent or set INTERLOCK_AGENT")
			}
			p := printer(cmd)
			cf, err := c.ResolveConflict(cmd.Context(), args[0], reason)
			if err != nil {
				return p.Error(err.Error())
			}
			p.Success("resolved %s", cf.ID)
			return nil
		},
	}
	resolve.Flags().StringVar(&reason, "reason", "", "how the conflict was settled")

	cmd.AddCommand(list, show, resolve)
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var mine bool
	var types []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream reservation and conflict events of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []client.WSOption{client.WithAutoReconnect(true)}
			if mine {
				opts = append(opts, client.WithWSAgentID(c.AgentID))
			}
			stream := client.NewWSClient(c.BaseURL, c.Project, opts...)
			out := cmd.OutOrStdout()
			stream.OnEvent(client.FilteredEventHandler(types, func(ev client.Event) {
				switch {
				case ev.Reservation != nil:
					fmt.Fprintf(out, "%s %s %s %s %v\n", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Type, ev.Reservation.ID, ev.Reservation.RequesterID, ev.Reservation.Patterns)
				case ev.Conflict != nil:
					fmt.Fprintf(out, "%s %s %s %s vs %s on %s\n", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Type, ev.Conflict.ID, ev.Conflict.RequesterID, ev.Conflict.ExistingReservation.RequesterID, ev.Conflict.OverlappingPattern)
				default:
					fmt.Fprintf(out, "%s %s\n", ev.CreatedAt.Local().Format(time.TimeOnly), ev.Type)
				}
			}))
			if err := stream.Connect(ctx); err != nil {
				return printer(cmd).Error(err.Error(), "is the server running? try: interlock serve")
			}
			defer stream.Close()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only events involving --agent")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types, e.g. conflict.detected")
	return cmd
}
