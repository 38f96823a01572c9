package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/internal/style"
)

const (
	usernameFlag  = "username"
	firstNameFlag = "first-name"
	lastNameFlag  = "last-name"
	roleFlag      = "role"
)

func (a *application) newListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users in registration order",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if limit <= 0 {
				limit = a.cfg.ListLimit
			}
			a.printUsers(a.reg.List(limit))
			if n := a.reg.Len(); n > limit {
				fmt.Fprintln(a.out, style.Dim.Render(fmt.Sprintf("... %d more", n-limit)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of users to show (default from configuration)")
	return cmd
}

func (a *application) newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List users waiting for approval",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a.printUsers(a.reg.PendingApproval())
			return nil
		},
	}
}

func (a *application) newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			u, ok := a.reg.Get(id)
			if !ok {
				return fmt.Errorf("user %d: %w", id, roster.ErrNotFound)
			}
			a.printUser(u)
			return nil
		},
	}
}

func (a *application) newCreateCommand() *cobra.Command {
	flags := map[string]cobraflags.Flag{
		usernameFlag:  &cobraflags.StringFlag{Name: usernameFlag, Usage: "Messenger username"},
		firstNameFlag: &cobraflags.StringFlag{Name: firstNameFlag, Usage: "First name"},
		lastNameFlag:  &cobraflags.StringFlag{Name: lastNameFlag, Usage: "Last name"},
		roleFlag:      &cobraflags.StringFlag{Name: roleFlag, Value: string(roster.RoleUser), Usage: "Role: user or admin"},
	}

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Register a user, or ask for approval again",
		Long: `Register a user waiting for approval.

If the user is already known only the status is reset to wait_approve; the
other flags are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			role, err := roster.ParseRole(flags[roleFlag].GetString())
			if err != nil {
				return err
			}

			u := roster.NewUser(id)
			u.Username = flags[usernameFlag].GetString()
			u.FirstName = flags[firstNameFlag].GetString()
			u.LastName = flags[lastNameFlag].GetString()
			u.Role = role

			created, err := a.reg.Create(cmd.Context(), u)
			if err != nil {
				return err
			}
			a.success("user %d is %s", created.ID, style.Status(created.Status))
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func (a *application) newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <json>",
		Short: "Change user fields from a JSON patch",
		Long: `Change user fields from a JSON object, for example

  roster update 42 '{"username":"kate","added_accounts":{"github":[7]}}'

Only username, first_name, last_name, role, status and added_accounts may be
set. The id cannot be changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := roster.DecodePatch([]byte(args[1]))
			if err != nil {
				return err
			}
			u, err := a.reg.Update(cmd.Context(), id, p)
			if err != nil {
				return err
			}
			a.printUser(u)
			return nil
		},
	}
}

func (a *application) newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.reg.Approve(cmd.Context(), id); err != nil {
				return err
			}
			a.success("user %d is %s", id, style.Status(roster.StatusApproved))
			return nil
		},
	}
}

func (a *application) newToggleRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-role <id>",
		Short: "Promote a user to admin or demote an admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			role, err := a.reg.ToggleRole(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.success("user %d is %s", id, style.Role(role))
			return nil
		},
	}
}

func (a *application) newBanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <id>",
		Short: "Ban an approved user or unban a declined one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, err := a.reg.BanOrUnban(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.success("user %d is %s", id, style.Status(status))
			return nil
		},
	}
}

func (a *application) newSetStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Set a user's status (wait_approve, approved, declined)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, err := roster.ParseStatus(args[1])
			if err != nil {
				return err
			}
			if err := a.reg.SetStatus(cmd.Context(), id, status); err != nil {
				return err
			}
			a.success("user %d is %s", id, style.Status(status))
			return nil
		},
	}
}

func (a *application) newSetRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <id> <role>",
		Short: "Set a user's role (user, admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			role, err := roster.ParseRole(args[1])
			if err != nil {
				return err
			}
			if err := a.reg.SetRole(cmd.Context(), id, role); err != nil {
				return err
			}
			a.success("user %d is %s", id, style.Role(role))
			return nil
		},
	}
}

func (a *application) newAttachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <slug> <user-id> <account-id>",
		Short: "Link an external account to a user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := strings.TrimSpace(args[0])
			if slug == "" {
				return errors.New("empty account slug")
			}
			userID, err := parseID(args[1])
			if err != nil {
				return err
			}
			accountID, err := parseID(args[2])
			if err != nil {
				return err
			}
			if err := a.reg.AttachAccount(cmd.Context(), slug, userID, accountID); err != nil {
				return err
			}
			a.success("account %s/%d linked to user %d", slug, accountID, userID)
			return nil
		},
	}
}

func (a *application) newFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write the whole registry to the store",
		Long: `Write the whole registry to the store, including default users that were
never changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.reg.Flush(cmd.Context()); err != nil {
				return err
			}
			a.success("%d users written", a.reg.Len())
			return nil
		},
	}
}

func (a *application) success(format string, args ...any) {
	fmt.Fprintf(a.out, "%s %s\n", style.SuccessPrefix, fmt.Sprintf(format, args...))
}

func (a *application) printUsers(users []roster.User) {
	if len(users) == 0 {
		fmt.Fprintln(a.out, style.Dim.Render("no users"))
		return
	}
	for _, u := range users {
		fmt.Fprintf(a.out, "%-12d %s %s %s\n", u.ID,
			pad(style.Role(u.Role), string(u.Role), 8),
			pad(style.Status(u.Status), string(u.Status), 14),
			displayName(u))
	}
}

func (a *application) printUser(u roster.User) {
	fmt.Fprintf(a.out, "%s %d\n", style.Bold.Render("id:"), u.ID)
	if name := displayName(u); name != "" {
		fmt.Fprintf(a.out, "%s %s\n", style.Bold.Render("name:"), name)
	}
	fmt.Fprintf(a.out, "%s %s\n", style.Bold.Render("role:"), style.Role(u.Role))
	fmt.Fprintf(a.out, "%s %s\n", style.Bold.Render("status:"), style.Status(u.Status))

	slugs := make([]string, 0, len(u.AddedAccounts))
	for slug := range u.AddedAccounts {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		ids := make([]string, len(u.AddedAccounts[slug]))
		for i, id := range u.AddedAccounts[slug] {
			ids[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(a.out, "%s %s\n", style.Bold.Render(slug+":"), strings.Join(ids, ", "))
	}
}

// pad fills a column to width measured on the plain text; rendered may carry
// escape sequences.
func pad(rendered, plain string, width int) string {
	if n := width - utf8.RuneCountInString(plain); n > 0 {
		return rendered + strings.Repeat(" ", n)
	}
	return rendered
}

func displayName(u roster.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case u.Username != "" && name != "":
		return fmt.Sprintf("%s (@%s)", name, u.Username)
	case u.Username != "":
		return "@" + u.Username
	default:
		return name
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
