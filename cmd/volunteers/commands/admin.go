package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/servelist/backend/pkg/apperror"
)

const envAdminPassword = "VOLUNTEERS_ADMIN_PASSWORD"

// AdminCmd creates the admin command group
func AdminCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage services (requires the admin password or a token)",
	}
	cmd.PersistentFlags().String("password", "", "Admin password (or "+envAdminPassword+")")

	cmd.AddCommand(adminLoginCmd(app))
	cmd.AddCommand(createServiceCmd(app))
	cmd.AddCommand(setCapacityCmd(app))
	cmd.AddCommand(deleteServiceCmd(app))
	return cmd
}

// ensureAdmin logs in with the password flag unless a token is already set.
func ensureAdmin(app *AppContext, cmd *cobra.Command) error {
	if app.API.Token() != "" {
		return nil
	}
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv(envAdminPassword)
	}
	if password == "" {
		return apperror.Newf(apperror.ErrUnauthorized, "admin token or password required (--token, --password or %s)", envAdminPassword)
	}
	if _, err := app.Agent.Login(app.Ctx, password); err != nil {
		return fmt.Errorf("%s", explain(err))
	}
	return nil
}

func adminLoginCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange the admin password for a token (use it with --token)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.API.SetToken("")
			if err := ensureAdmin(app, cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.API.Token())
			return nil
		},
	}
}

func createServiceCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create-service <date> <capacity> [description]",
		Short: "Create a service on a date (YYYY-MM-DD)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("capacity must be a number: %w", err)
			}
			description := ""
			if len(args) == 3 {
				description = strings.TrimSpace(args[2])
			}
			if err := ensureAdmin(app, cmd); err != nil {
				return err
			}

			s, err := app.Agent.CreateService(app.Ctx, args[0], capacity, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Service %s created with %d seats (id %s)\n", s.Date, s.Capacity, s.ID)
			return nil
		},
	}
}

func setCapacityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-capacity <service> <capacity>",
		Short: "Change the number of seats of a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("capacity must be a number: %w", err)
			}
			if err := ensureAdmin(app, cmd); err != nil {
				return err
			}
			if err := app.Sync(); err != nil {
				return err
			}
			s, err := resolveService(app.Agent.View(), args[0])
			if err != nil {
				return err
			}

			updated, err := app.Agent.UpdateCapacity(app.Ctx, s.ID, capacity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Service %s now has %d seats\n", s.Date, updated.Capacity)
			if s.VolunteerCount > updated.Capacity {
				fmt.Fprintf(cmd.OutOrStdout(), "  %d volunteers are already signed up; nobody was removed\n", s.VolunteerCount)
			}
			return nil
		},
	}
}

func deleteServiceCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-service <service>",
		Short: "Delete a service and all of its sign-ups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureAdmin(app, cmd); err != nil {
				return err
			}
			if err := app.Sync(); err != nil {
				return err
			}
			s, err := resolveService(app.Agent.View(), args[0])
			if err != nil {
				return err
			}
			if err := app.Agent.DeleteService(app.Ctx, s.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Service %s deleted with %d sign-ups\n", s.Date, s.VolunteerCount)
			return nil
		},
	}
}
