package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/servelist/backend/pkg/apperror"
)

// ListCmd creates the list command
func ListCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list [service]",
		Short: "List services and who is signed up (service is a date or id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Sync(); err != nil {
				return err
			}
			view := app.Agent.View()
			if len(args) == 1 {
				s, err := resolveService(view, args[0])
				if err != nil {
					return err
				}
				app.Agent.Select(s.ID)
				view = app.Agent.View()
			}
			printView(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

// SignUpCmd creates the signup command
func SignUpCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signup <service> [name]",
		Short: "Sign up for a service (name defaults to the last one used)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := app.Agent.LastName()
			if len(args) == 2 {
				name = args[1]
			}
			if strings.TrimSpace(name) == "" {
				return apperror.Newf(apperror.ErrInvalidInput, "a name is required")
			}

			if err := app.Sync(); err != nil {
				return err
			}
			s, err := resolveService(app.Agent.View(), args[0])
			if err != nil {
				return err
			}

			v, err := app.Agent.SignUp(app.Ctx, name, s.ID)
			if err != nil {
				return fmt.Errorf("%s", explain(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is signed up for %s (id %s)\n", v.Name, s.Date, v.ID)
			return nil
		},
	}
}

// WithdrawCmd creates the withdraw command
func WithdrawCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <volunteer_id>",
		Short: "Withdraw one of your registrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("volunteer_id must be a uuid: %w", err)
			}
			if err := app.Agent.Withdraw(app.Ctx, id); err != nil {
				return fmt.Errorf("%s", explain(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Registration %s withdrawn\n", id)
			return nil
		},
	}
}

// MineCmd creates the mine command
func MineCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List the registrations made from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Sync(); err != nil {
				return err
			}
			view := app.Agent.View()
			out := cmd.OutOrStdout()
			if len(view.Owned) == 0 {
				fmt.Fprintln(out, "You have no registrations.")
				return nil
			}
			owned := make(map[uuid.UUID]bool, len(view.Owned))
			for _, id := range view.Owned {
				owned[id] = true
			}
			for _, v := range view.Volunteers {
				if !owned[v.ID] {
					continue
				}
				date := "?"
				if s, ok := view.Service(v.ServiceID); ok {
					date = s.Date
				}
				fmt.Fprintf(out, "- %s  %s  (id %s)\n", date, v.Name, v.ID)
			}
			return nil
		},
	}
}
