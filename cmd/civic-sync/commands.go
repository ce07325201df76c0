package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/civic-issues/internal/client"
	"github.com/mr1hm/civic-issues/internal/geo"
	"github.com/mr1hm/civic-issues/internal/locwatch"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/syncer"
)

var (
	waitTimeout  time.Duration
	locationFile string
	report       struct {
		title       string
		description string
		category    string
		severity    string
		anonymous   bool
	}
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues near you once and exit",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the issue list up to date until interrupted",
	Long: `Watch prints the issue list every time it changes. Send SIGHUP to
refresh. With --location-file, edits to that YAML file (lat, lng, address)
move the search center.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report a new issue at your location",
	Long: `Report files a new issue at the current location. When the server is
unavailable the issue is only kept for this session.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var distanceCmd = &cobra.Command{
	Use:   "distance <lat1> <lng1> <lat2> <lng2>",
	Short: "Print the great-circle distance between two points in km",
	Args:  cobra.ExactArgs(4),
	RunE:  runDistance,
}

var voteCmd = &cobra.Command{
	Use:   "vote <issue-id>",
	Short: "Upvote an issue",
	Args:  cobra.ExactArgs(1),
	RunE:  runVote,
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Save a bearer token for reporting issues under your name",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

func init() {
	listCmd.Flags().DurationVar(&waitTimeout, "wait", 30*time.Second, "how long to wait for the server")
	reportCmd.Flags().DurationVar(&waitTimeout, "wait", 30*time.Second, "how long to wait for the server")
	addFilterFlags(listCmd)
	addFilterFlags(watchCmd)
	watchCmd.Flags().StringVar(&locationFile, "location-file", "", "YAML file to watch for location overrides")

	rf := reportCmd.Flags()
	rf.StringVar(&report.title, "title", "", "short summary (required)")
	rf.StringVar(&report.description, "description", "", "what is wrong")
	rf.StringVar(&report.category, "category", "", "roads, lighting, water, cleanliness, safety or obstructions (required)")
	rf.StringVar(&report.severity, "severity", "medium", "low, medium, high or critical")
	rf.BoolVar(&report.anonymous, "anonymous", false, "hide your name")
	_ = reportCmd.MarkFlagRequired("title")
	_ = reportCmd.MarkFlagRequired("category")
}

func printNotice(w io.Writer) syncer.NotifierFunc {
	return func(n syncer.Notice) {
		fmt.Fprintf(w, "[%s] %s\n", n.Kind, n.Message)
	}
}

// settle starts ctrl and waits for the first settled view.
func settle(ctx context.Context, ctrl *syncer.Controller) (syncer.View, error) {
	ctrl.Start(ctx)

	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	for {
		select {
		case v := <-ctrl.Updates():
			if v.Settled() {
				return v, nil
			}
		case <-ctx.Done():
			return ctrl.Snapshot(), fmt.Errorf("gave up waiting for issues: %w", ctx.Err())
		}
	}
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.filter(ctx, cmd)
	if err != nil {
		return err
	}
	ctrl := a.controller(f, printNotice(cmd.ErrOrStderr()))
	defer ctrl.Stop()

	v, err := settle(ctx, ctrl)
	render(cmd.OutOrStdout(), v)
	return err
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.filter(ctx, cmd)
	if err != nil {
		return err
	}
	ctrl := a.controller(f, printNotice(cmd.ErrOrStderr()))
	ctrl.Start(ctx)
	defer ctrl.Stop()

	if locationFile != "" {
		w, err := locwatch.New(locationFile, func(ctx context.Context, loc models.Location) error {
			loc, err := a.locations.SetManualLocation(ctx, loc)
			if err != nil {
				return err
			}
			return ctrl.SetLocation(loc)
		})
		if err != nil {
			return err
		}
		wctx, wcancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = w.Run(wctx)
		}()
		defer func() {
			wcancel()
			<-done
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := ctrl.Refresh(); err != nil {
				return err
			}
		case v := <-ctrl.Updates():
			if v.Settled() {
				render(out, v)
			}
		}
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	category, err := models.ParseCategory(report.category)
	if err != nil {
		return err
	}
	severity, err := models.ParseSeverity(report.severity)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.controller(a.savedFilter(ctx), printNotice(cmd.ErrOrStderr()))
	defer ctrl.Stop()

	v, err := settle(ctx, ctrl)
	if err != nil {
		return err
	}
	if v.Location == nil {
		return fmt.Errorf("no location to report from")
	}

	issue, err := ctrl.CreateIssue(ctx, client.NewIssue{
		Title:       report.title,
		Description: report.description,
		Category:    category,
		Severity:    severity,
		Location:    models.IssueLocation{Lat: v.Location.Lat, Lng: v.Location.Lng, Address: v.Location.Address},
		Anonymous:   report.anonymous,
	})
	if err != nil {
		return fmt.Errorf("failed to report issue: %w", err)
	}

	out := cmd.OutOrStdout()
	if strings.HasPrefix(issue.ID, "local-") {
		fmt.Fprintf(out, "server unavailable: %s kept locally as %s\n", issue.Title, issue.ID)
		return nil
	}
	fmt.Fprintf(out, "reported %s (%s)\n", issue.Title, issue.ID)
	return nil
}

func runDistance(cmd *cobra.Command, args []string) error {
	var vals [4]float64
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", arg)
		}
		vals[i] = v
	}
	a := models.Coordinate{Lat: vals[0], Lng: vals[1]}
	b := models.Coordinate{Lat: vals[2], Lng: vals[3]}
	if err := geo.ValidateCoordinate(a); err != nil {
		return err
	}
	if err := geo.ValidateCoordinate(b); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.2f km\n", geo.DistanceKm(a, b))
	return nil
}

func runVote(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	votes, err := a.api.Vote(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to vote: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d votes\n", args[0], votes)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	token := strings.TrimSpace(args[0])
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.state.SaveToken(cmd.Context(), token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "token saved")
	return nil
}

func render(w io.Writer, v syncer.View) {
	where := "unknown location"
	if v.Location != nil {
		where = fmt.Sprintf("%.4f, %.4f", v.Location.Lat, v.Location.Lng)
		if v.Location.Address != "" {
			where = v.Location.Address + " (" + where + ")"
		}
	}
	source := "live"
	if v.UsingFallback {
		source = "demo data"
	}
	fmt.Fprintf(w, "%d issues within %.1f km of %s [%s, status=%s, category=%s]\n",
		len(v.Issues), v.Filter.RadiusKm, where, source, v.Filter.StatusParam(), v.Filter.CategoryParam())
	if len(v.Issues) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tSEVERITY\tKM\tVOTES\tTITLE")
	for _, issue := range v.Issues {
		km := "-"
		if v.Location != nil {
			km = fmt.Sprintf("%.2f", geo.DistanceKm(v.Location.Coordinate, issue.Location.Coordinate()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			issue.ID, issue.Status, issue.Category, issue.Severity, km, issue.VoteCount, issue.Title)
	}
	tw.Flush()
}
