package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/airbear/internal/booking"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/realtime"
)

var errFeedClosed = errors.New("change feed closed before the ride finished")

func newSpotsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "spots",
		Short: "List pickup spots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spots, err := a.api.Spots(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE")
			for _, s := range spots {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", s.ID, s.Name, s.IsActive)
			}
			return tw.Flush()
		},
	}
}

func newQuoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote PICKUP DESTINATION",
		Short: "Price a ride between two spots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.api.Quote(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: $%s, %.2f km, about %d min\n",
				q.From, q.To, q.Fare.StringFixed(2), q.DistanceKm, q.Minutes)
			return nil
		},
	}
}

func newVehiclesCmd(a *app) *cobra.Command {
	var available bool
	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "List the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				vs  []models.Vehicle
				err error
			)
			if available {
				vs, err = a.api.AvailableVehicles(cmd.Context())
			} else {
				vs, err = a.api.Vehicles(cmd.Context())
			}
			if err != nil {
				return err
			}
			printVehicles(cmd.OutOrStdout(), vs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&available, "available", false, "only vehicles that can take a ride now")
	return cmd
}

func printVehicles(w io.Writer, vs []models.Vehicle) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSPOT\tBATTERY\tAVAILABLE\tCHARGING")
	for _, v := range vs {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%t\t%t\n", v.ID, v.CurrentSpotID, v.BatteryLevel, v.IsAvailable, v.IsCharging)
	}
	_ = tw.Flush()
}

func newNearbyCmd(a *app) *cobra.Command {
	var lat, lng, radius float64
	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "Find bookable vehicles around a point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if radius <= 0 {
				radius = a.cfg.Fare.NearbyRadiusKm
			}
			near, err := a.api.Nearby(cmd.Context(), lat, lng, radius)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(near) == 0 {
				fmt.Fprintf(out, "No vehicles within %.1f km\n", radius)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDISTANCE\tBATTERY")
			for _, n := range near {
				fmt.Fprintf(tw, "%s\t%.2f km\t%d%%\n", n.ID, n.DistanceKm, n.BatteryLevel)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&radius, "radius", 0, "search radius in km (default $NEARBY_RADIUS_KM)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func newBookCmd(a *app) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "book PICKUP DESTINATION",
		Short: "Request a ride",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			u, err := a.requireUser()
			if err != nil {
				return err
			}
			table, err := a.spots(ctx)
			if err != nil {
				return err
			}
			flow := booking.New(table, a.cfg.Fare.Estimator(), a.api, u.ID,
				booking.WithLogger(a.log),
				booking.OnChange(func(s booking.State) {
					a.log.Debug("booking stage", "stage", s.Stage.String())
				}),
			)
			if err := flow.SelectPickup(args[0]); err != nil {
				return err
			}
			if err := flow.SelectDestination(args[1]); err != nil {
				return err
			}
			if q := flow.State().Quote; q != nil {
				fmt.Fprintf(out, "Estimated fare $%s for %.2f km, about %d min\n", q.Fare.StringFixed(2), q.DistanceKm, q.Minutes)
			}

			// Subscribe first so no status change slips by between
			// creating the ride and watching it.
			var sub realtime.Subscription
			if wait {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				feed := realtime.NewWSFeed(a.cfg.APIURL, a.token, a.log)
				sub, err = feed.Subscribe(ctx, realtime.Topic{Table: models.TableRides, Filter: realtime.EqFilter("user_id", u.ID)})
				if err != nil {
					return fmt.Errorf("watch rides: %w", err)
				}
				defer sub.Close()
			}

			ride, err := flow.Submit(ctx)
			if err != nil {
				return err
			}
			a.cache.Invalidate(realtime.KeyRidesByUser)
			fmt.Fprintf(out, "Ride %s requested, fare $%s\n", ride.ID, ride.Fare.StringFixed(2))
			if sub == nil {
				return nil
			}
			return waitForRide(ctx, out, u.Role, ride.ID, sub)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "follow the ride until it completes or is cancelled")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long")
	return cmd
}

// waitForRide prints each status change of rideID until it is terminal.
func waitForRide(ctx context.Context, w io.Writer, role models.Role, rideID string, sub realtime.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-sub.C():
			if !ok {
				return errFeedClosed
			}
			var r models.Ride
			if err := json.Unmarshal(c.New, &r); err != nil || r.ID != rideID {
				continue
			}
			fmt.Fprintf(w, "[%s] %s\n", r.Status, realtime.StatusMessage(role, r.Status))
			if r.Status.Terminal() {
				return nil
			}
		}
	}
}

func newRidesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rides",
		Short: "List your rides, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.requireUser()
			if err != nil {
				return err
			}
			rides, err := a.api.RidesByUser(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFROM\tTO\tSTATUS\tFARE\tREQUESTED")
			for _, r := range rides {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%s\t%s\n", r.ID, r.PickupSpotID, r.DestinationSpotID, r.Status,
					r.Fare.StringFixed(2), r.RequestedAt.Local().Format(time.Kitchen))
			}
			return tw.Flush()
		},
	}
}

func newRideStatusCmd(a *app) *cobra.Command {
	var vehicleID string
	cmd := &cobra.Command{
		Use:   "ride-status RIDE_ID STATUS",
		Short: "Move a ride along its lifecycle (drivers and admins)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.RideStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			r, err := a.api.UpdateRideStatus(cmd.Context(), args[0], models.RideStatusUpdate{Status: status, VehicleID: vehicleID})
			if err != nil {
				return err
			}
			role := models.RoleDriver
			if u := a.user(); u != nil {
				role = u.Role
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ride %s is %s. %s\n", r.ID, r.Status, realtime.StatusMessage(role, r.Status))
			return nil
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "vehicle assigned when accepting")
	return cmd
}

func newLocationCmd(a *app) *cobra.Command {
	var (
		lat, lng float64
		battery  int
		charging bool
	)
	cmd := &cobra.Command{
		Use:   "location VEHICLE_ID",
		Short: "Report a vehicle position (drivers and admins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := models.LocationUpdate{VehicleID: args[0], Lat: lat, Lng: lng, ReportedAt: time.Now().UTC()}
			if cmd.Flags().Changed("battery") {
				u.BatteryLevel = &battery
			}
			if cmd.Flags().Changed("charging") {
				u.IsCharging = &charging
			}
			if err := a.api.ReportLocation(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Location for %s sent\n", args[0])
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().IntVar(&battery, "battery", 0, "battery level 0-100")
	cmd.Flags().BoolVar(&charging, "charging", false, "vehicle is on the charger")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

type printNotifier struct{ w io.Writer }

func (p printNotifier) Notify(n realtime.Notification) {
	fmt.Fprintf(p.w, "%s  %s: %s\n", time.Now().Format(time.Kitchen), n.Title, n.Body)
}

// bell rings the terminal bell.
type bell struct{ w io.Writer }

func (b bell) Play() error {
	_, err := io.WriteString(b.w, "\a")
	return err
}

func newTrackCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Stream live ride and fleet notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			u, err := a.requireUser()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			opts := realtime.Options{
				Feed:     realtime.NewWSFeed(a.cfg.APIURL, a.token, a.log),
				Cache:    a.cache,
				Notifier: printNotifier{w: out},
				Vehicles: a.api,
				RadiusKm: a.cfg.Fare.NearbyRadiusKm,
				Log:      a.log,
			}
			if !quiet {
				opts.Sounder = bell{w: out}
			}
			t := realtime.NewTracker(opts)
			if err := t.Start(ctx, u); err != nil {
				return err
			}
			defer t.Stop()
			fmt.Fprintf(out, "Tracking as %s (%s). Ctrl-C to stop.\n", u.ID, u.Role)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "no terminal bell")
	return cmd
}
