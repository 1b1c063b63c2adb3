package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/internal/syncclient"
	"github.com/servelist/backend/pkg/apperror"
)

// resolveService finds a service by id or by date.
func resolveService(view syncclient.View, arg string) (models.Service, error) {
	arg = strings.TrimSpace(arg)
	if id, err := uuid.Parse(arg); err == nil {
		if s, ok := view.Service(id); ok {
			return s, nil
		}
	}
	for _, s := range view.Services {
		if s.Date == arg {
			return s, nil
		}
	}
	return models.Service{}, apperror.Newf(apperror.ErrNotFound, "no service for %q", arg)
}

func printServices(w io.Writer, view syncclient.View) {
	if len(view.Services) == 0 {
		fmt.Fprintln(w, "No services scheduled.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tDATE\tSEATS\tDESCRIPTION\tID")
	for _, s := range view.Services {
		marker := " "
		if s.ID == view.Selected {
			marker = "*"
		}
		seats := fmt.Sprintf("%d/%d", s.VolunteerCount, s.Capacity)
		if s.Full() {
			seats += " full"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, s.Date, seats, s.Description, s.ID)
	}
	tw.Flush()
}

func printVolunteers(w io.Writer, view syncclient.View, serviceID uuid.UUID) {
	owned := make(map[uuid.UUID]bool, len(view.Owned))
	for _, id := range view.Owned {
		owned[id] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	n := 0
	for _, v := range view.Volunteers {
		if serviceID != uuid.Nil && v.ServiceID != serviceID {
			continue
		}
		mine := ""
		if owned[v.ID] {
			mine = "(you)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", v.Name, mine, v.ID)
		n++
	}
	if n == 0 {
		fmt.Fprintln(tw, "  nobody yet")
	}
	tw.Flush()
}

func printView(w io.Writer, view syncclient.View) {
	printServices(w, view)
	if s, ok := view.Service(view.Selected); ok {
		fmt.Fprintf(w, "\nVolunteers for %s:\n", s.Date)
		printVolunteers(w, view, s.ID)
	}
}

// explain turns taxonomy errors into a line a user can act on.
func explain(err error) string {
	switch apperror.Code(err) {
	case apperror.ErrCapacityExceeded.Code:
		return "That service is full."
	case apperror.ErrDuplicateName.Code:
		return "That name is already signed up for this service."
	case apperror.ErrConnectionFailed.Code:
		return "Could not reach the server, try again shortly."
	case apperror.ErrUnauthorized.Code:
		return "Admin login required (run 'volunteers admin login')."
	case apperror.ErrForbidden.Code:
		return "Only the person who signed up, or an admin, can do that."
	}
	return err.Error()
}
