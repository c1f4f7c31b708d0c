package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"splithappens/internal/api"
	"splithappens/internal/apperr"
	"splithappens/internal/backend"
	"splithappens/internal/config"
	"splithappens/internal/core"
	"splithappens/internal/log"
	"splithappens/internal/router"
	"splithappens/internal/viewmodel"
)

// PasscodeEnv lets scripts pass the household passcode without a flag.
const PasscodeEnv = "SPLITHAPPENS_PASSCODE"

var errNotSignedIn = errors.New("not signed in, run login first")

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	apiURL    string
	tokenPath string
	timeout   time.Duration

	cfg    *config.Config
	logger *log.Logger
	creds  *TokenFile
	api    *api.Gateway
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "splithappens-cli",
		Short: "Shared household expenses from the terminal",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.apiURL, "api", "", "backend base URL (default $API_BASE_URL)")
	flags.StringVar(&a.tokenPath, "token-file", DefaultTokenPath(), "where the session token is kept")
	flags.DurationVar(&a.timeout, "timeout", 0, "backend call timeout (default $API_TIMEOUT)")

	rootCmd.AddCommand(
		a.newLoginCommand(),
		a.newCreateCommand(),
		a.newLogoutCommand(),
		a.newWhoamiCommand(),
		a.newDashboardCommand(),
		a.newAnalysesCommand(),
		a.newExpensesCommand(),
		a.newSettleCommand(),
		newRouteCommand(),
		a.newExportsCommand(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	LoadEnvFile()
	cfg := config.Load()
	if a.apiURL != "" {
		cfg.APIBaseURL = config.NormalizeBaseURL(a.apiURL)
	}
	if a.timeout > 0 {
		cfg.APITimeout = a.timeout
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	creds, err := OpenTokenFile(a.tokenPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    log.FormatConsole,
		Component: log.ComponentApp,
		Output:    cmd.ErrOrStderr(),
	})
	a.creds = creds
	a.api = api.New(cfg.APIBaseURL, api.Options{Timeout: cfg.APITimeout, Logger: a.logger}).For(creds)
	return nil
}

// fail turns a backend error into the message a member would see in the
// browser banner. A rejected token means the session is gone.
func fail(err error, fallback string) error {
	if api.IsUnauthorized(err) {
		return errNotSignedIn
	}
	return errors.New(apperr.UserMessage(err, fallback))
}

func (a *app) requireToken() error {
	if a.creds.Token() == "" {
		return errNotSignedIn
	}
	return nil
}

func printIdentity(w io.Writer, id core.SessionIdentity) {
	fmt.Fprintf(w, "Signed in as %s (%s) in %s\n", id.UserName, id.User, id.HouseholdName)
	if id.Members != nil {
		fmt.Fprintf(w, "Members: %s and %s\n", id.Members.User1, id.Members.User2)
	}
}

func passcode(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(PasscodeEnv)
}

func (a *app) newLoginCommand() *cobra.Command {
	var in core.LoginInput
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Join a household as one of its two members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Passcode = passcode(in.Passcode)
			in = in.Trimmed()
			if err := in.Validate(); err != nil {
				return err
			}
			id, err := a.api.Login(cmd.Context(), in)
			if err != nil {
				return errors.New(apperr.UserMessage(err, "Login failed."))
			}
			if err := a.creds.Err(); err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.HouseholdName, "household", "", "household name")
	cmd.Flags().StringVar(&in.Name, "name", "", "your member name")
	cmd.Flags().StringVar(&in.Passcode, "passcode", "", "household passcode (default $"+PasscodeEnv+")")
	return cmd
}

func (a *app) newCreateCommand() *cobra.Command {
	var in core.CreateHouseholdInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a household and sign in as its first member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Passcode = passcode(in.Passcode)
			in = in.Trimmed()
			if err := in.Validate(); err != nil {
				return err
			}
			id, err := a.api.CreateHousehold(cmd.Context(), in)
			if err != nil {
				return errors.New(apperr.UserMessage(err, "Could not create household."))
			}
			if err := a.creds.Err(); err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.HouseholdName, "household", "", "household name")
	cmd.Flags().StringVar(&in.Member1Name, "member1", "", "first member name")
	cmd.Flags().StringVar(&in.Member2Name, "member2", "", "second member name")
	cmd.Flags().StringVar(&in.Passcode, "passcode", "", "household passcode (default $"+PasscodeEnv+")")
	return cmd
}

func (a *app) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the backend session and forget the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			if err := a.api.Logout(cmd.Context()); err != nil {
				if !api.IsUnauthorized(err) {
					return fail(err, "Logout failed.")
				}
				a.creds.SetToken("")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return a.creds.Err()
		},
	}
}

func (a *app) newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			id, err := a.api.FetchSession(cmd.Context())
			if err != nil {
				return fail(err, "Could not load session.")
			}
			if !id.SignedIn() {
				return errNotSignedIn
			}
			printIdentity(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func printMonth(w io.Writer, card viewmodel.MonthCard) {
	fmt.Fprintf(w, "%s: %s (%s)\n", card.Title, card.Label, card.Range)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  %s\t%s\n", card.MemberOne.Name, card.MemberOne.Amount)
	fmt.Fprintf(tw, "  %s\t%s\n", card.MemberTwo.Name, card.MemberTwo.Amount)
	fmt.Fprintf(tw, "  Combined\t%s\n", card.Combined)
	fmt.Fprintf(tw, "  Receipts\t%d\n", card.ReceiptCount)
	tw.Flush()
}

func printReceipts(w io.Writer, rows []viewmodel.ReceiptRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No receipts yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tVENDOR\tCATEGORY\tTOTAL\tBY\tSTATUS")
	for _, r := range rows {
		status := "draft"
		if r.Saved {
			status = "saved"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date, r.Vendor, r.Category, r.Total, r.UploadedBy, status)
	}
	tw.Flush()
}

func (a *app) newDashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show monthly totals, the settlement and recent receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			dash, err := a.api.FetchDashboard(cmd.Context())
			if err != nil {
				return fail(err, "Could not load dashboard.")
			}
			out := cmd.OutOrStdout()
			currency := viewmodel.DisplayCurrency(nil, &dash, nil)
			members := viewmodel.ResolveMembers(&dash, nil)

			fmt.Fprintf(out, "%s, %s\n\n", dash.HouseholdName, viewmodel.CurrentDateLabel(dash.CurrentDate, time.Now()).Text)
			printMonth(out, viewmodel.BuildMonthCard("This month", dash.CurrentMonth, members, currency))
			printMonth(out, viewmodel.BuildMonthCard("Last month", dash.LastMonth, members, currency))

			settle := viewmodel.BuildSettlementCard(dash.Settlement, currency)
			fmt.Fprintf(out, "\nSettlement: %s", settle.Message)
			if settle.Owed {
				fmt.Fprintf(out, " (%s pays %s %s)", settle.Payer, settle.Payee, settle.Amount)
			}
			fmt.Fprintln(out)
			if n := viewmodel.UnreadNotificationCount(&dash); n > 0 {
				fmt.Fprintf(out, "Unread notifications: %d\n", n)
			}

			fmt.Fprintln(out, "\nRecent receipts")
			printReceipts(out, viewmodel.BuildReceiptRows(dash.RecentReceipts, currency))
			return nil
		},
	}
}

func (a *app) newAnalysesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyses",
		Short: "List analyzed receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			list, err := a.api.ListAnalyses(cmd.Context())
			if err != nil {
				return fail(err, "Could not load analyses.")
			}
			currency := viewmodel.DisplayCurrency(nil, nil, list)
			printReceipts(cmd.OutOrStdout(), viewmodel.BuildReceiptRows(list, currency))
			return nil
		},
	}
}

func (a *app) newExpensesCommand() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "expenses",
		Short: "Show the expenses overview by month and category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			code := core.NormalizeCurrency(currency)
			if !core.IsSupportedCurrency(code) {
				return fmt.Errorf("unsupported currency %q", currency)
			}
			ov, err := a.api.FetchExpensesOverview(cmd.Context())
			if err != nil {
				return fail(err, "Could not load expenses.")
			}
			page := viewmodel.BuildExpensesPage(ov, code)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "%s, %s\n\n", page.HouseholdName, page.UpdatedThrough)
			printMonth(out, page.CurrentMonth)
			printMonth(out, page.LastMonth)

			fmt.Fprintln(out, "\nThis month by category")
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, bar := range page.CurrentCategory {
				fmt.Fprintf(tw, "  %s\t%s\n", bar.Label, bar.Amount)
			}
			tw.Flush()

			fmt.Fprintln(out, "\nSix month trend")
			tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, bar := range page.Trend {
				fmt.Fprintf(tw, "  %s\t%s\n", bar.Label, bar.Amount)
			}
			tw.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", core.DefaultCurrency, "display currency")
	return cmd
}

func (a *app) newSettleCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Record that the household has settled up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			if !yes {
				return errors.New("settling notifies both members, pass --yes to confirm")
			}
			res, err := a.api.Settle(cmd.Context())
			if err != nil {
				return fail(err, "Could not settle.")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, apperr.Normalize(res.Detail, "Settlement recorded."))
			if res.Settlement.Message != "" {
				fmt.Fprintln(out, res.Settlement.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the settlement")
	return cmd
}

func newRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route [path]",
		Short: "Show which view a browser path opens",
		Args:  cobra.MaximumNArgs(1),
		// Resolving a path needs neither config nor a session.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, r := range router.All {
					fmt.Fprintf(out, "%-14s %s\n", r.Title(), r.Path())
				}
				return nil
			}
			r := router.FromPath(args[0])
			fmt.Fprintf(out, "%s -> %s (%s)\n", args[0], r.Title(), r.Path())
			return nil
		},
	}
}

func (a *app) newExportsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List events the worker wrote to the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bcfg, err := backend.FromAppConfig(a.cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			res, err := backend.NewFactory(a.logger).CreateStore(ctx, bcfg)
			if err != nil {
				return err
			}
			defer res.Cleanup()

			records, err := res.Store.ListExports(ctx, limit)
			if err != nil {
				return fmt.Errorf("listing exports: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No exports recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "EXPORTED\tEVENT\tTYPE\tRECEIPT\tLEDGER")
			for _, r := range records {
				receipt := "-"
				if r.ReceiptID > 0 {
					receipt = fmt.Sprint(r.ReceiptID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ExportedAt.Format(time.RFC3339), r.EventID, r.EventType, receipt, strings.TrimSpace(r.LedgerRef))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of exports")
	return cmd
}
