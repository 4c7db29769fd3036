package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/hoadmin/internal/auth"
	"github.com/dukerupert/hoadmin/internal/hoa"
)

func runLogin(ctx context.Context, a *app, args []string, p *prompter) error {
	var adminID string
	if len(args) > 0 {
		adminID = args[0]
	} else {
		id, err := p.ask("Admin ID")
		if err != nil {
			return err
		}
		adminID = id
	}
	password, err := p.ask("Password")
	if err != nil {
		return err
	}

	a.manager.Start(ctx)
	if _, err := a.manager.Login(ctx, adminID, password); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	snap, err := a.manager.Wait(waitCtx, func(s auth.Snapshot) bool {
		return s.State == auth.StateLoggedIn && !s.Loading
	})
	if err != nil {
		return fmt.Errorf("waiting for profile: %w", err)
	}
	printWhoami(snap)
	return nil
}

func runLogout(ctx context.Context, a *app) error {
	if _, err := a.session(ctx); errors.Is(err, errNotSignedIn) {
		fmt.Println("Not signed in")
		return nil
	} else if err != nil {
		return err
	}
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoami(ctx context.Context, a *app) error {
	snap, err := a.session(ctx)
	if err != nil {
		return err
	}
	printWhoami(snap)
	return nil
}

func printWhoami(s auth.Snapshot) {
	if s.Profile == nil {
		fmt.Printf("Signed in as %s (no admin profile found)\n", s.User.Email)
		return
	}
	fmt.Printf("Signed in as %s %s, %s (admin ID %s)\n",
		s.Profile.FirstName, s.Profile.LastName, s.Profile.Position, s.Profile.AdminID)
}

func runPending(ctx context.Context, a *app) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}
	residents, err := a.residents.Pending(ctx)
	if err != nil {
		return err
	}
	reservations, err := a.reservations.Pending(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RESIDENTS (%d)\n", len(residents))
	for _, r := range residents {
		fmt.Fprintf(tw, "  %d\t%s %s\t%s\t%s\n", r.ID, r.FirstName, r.LastName, r.Email, r.BlockLot)
	}
	fmt.Fprintf(tw, "RESERVATIONS (%d)\n", len(reservations))
	for _, r := range reservations {
		fmt.Fprintf(tw, "  %d\t%s\t%s %s-%s\t%s\n", r.ID, r.Facility, r.Date, r.StartTime, r.EndTime, r.Purpose)
	}
	return tw.Flush()
}

func runDecide(ctx context.Context, a *app, verb string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: hoadmin %s resident|reservation <id>", verb)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[1])
	}
	if _, err := a.session(ctx); err != nil {
		return err
	}

	type decider interface {
		Approve(ctx context.Context, id int64) error
		Reject(ctx context.Context, id int64) error
	}
	var d decider
	switch strings.TrimSuffix(args[0], "s") {
	case "resident":
		d = a.residents
	case "reservation":
		d = a.reservations
	default:
		return fmt.Errorf("unknown kind %q", args[0])
	}

	done := "approved"
	if verb == "approve" {
		err = d.Approve(ctx, id)
	} else {
		err = d.Reject(ctx, id)
		done = "rejected"
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %d %s\n", args[0], id, done)
	return nil
}

func runAnnounce(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("announce", flag.ContinueOnError)
	image := fs.String("image", "", "image file to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: hoadmin announce [-image file] <title> [body]")
	}

	snap, err := a.session(ctx)
	if err != nil {
		return err
	}

	in := hoa.NewAnnouncement{
		Title: fs.Arg(0),
		Body:  strings.Join(fs.Args()[1:], " "),
	}
	if snap.Profile != nil {
		in.PostedBy = strings.TrimSpace(snap.Profile.FirstName + " " + snap.Profile.LastName)
	}
	if *image != "" {
		f, err := os.Open(*image)
		if err != nil {
			return err
		}
		defer f.Close()
		in.Image = f
		in.ImageName = filepath.Base(*image)
		in.ContentType = mime.TypeByExtension(filepath.Ext(*image))
	}

	created, err := a.announcements.Create(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Posted announcement %d\n", created.ID)
	return nil
}

func runAnnouncements(ctx context.Context, a *app) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}
	list, err := a.announcements.List(ctx)
	if err != nil {
		return err
	}
	for _, an := range list {
		fmt.Printf("#%d %s  (%s, %s)\n", an.ID, an.Title, an.PostedBy, an.CreatedAt.Format("2006-01-02"))
		if an.Body != "" {
			fmt.Printf("   %s\n", an.Body)
		}
		if an.ImageURL != "" {
			fmt.Printf("   image: %s\n", an.ImageURL)
		}
	}
	return nil
}

func runUnannounce(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hoadmin unannounce <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}
	if _, err := a.session(ctx); err != nil {
		return err
	}
	if err := a.announcements.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted announcement %d\n", id)
	return nil
}
