package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"wsotp/internal/client/config"
	"wsotp/internal/client/control"
	"wsotp/internal/client/tui"
	"wsotp/internal/events"
	"wsotp/internal/extract"
	"wsotp/internal/logger"
	"wsotp/pkg/protocol"
)

var rootCmd = &cobra.Command{
	Use:   "wsotp",
	Short: "Admin client for the wsotp bot",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.PathOverride = flagConfig
		logger.SetDebug(flagDebug)
		return nil
	},
	SilenceUsage: true,
}

// ServerAddr should be injected via ldflags. Default for dev.
var ServerAddr = "localhost:4443"

const callTimeout = 30 * time.Second

var (
	flagServer string
	flagToken  string
	flagPlain  bool
	flagConfig string
	flagDebug  bool
)

func Init(serverAddr string) {
	if serverAddr != "" {
		ServerAddr = serverAddr
	}

	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "control plane address (host:port)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "admin API token")
	rootCmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "connect without TLS")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.wsotp.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging")

	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsRemoveCmd)
	rootCmd.AddCommand(authCmd, accountsCmd, refreshCmd, statusCmd, cancelCmd, statsCmd, extractCmd, watchCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// settings merges flags over the saved config.
func settings() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if flagServer != "" {
		cfg.Server = flagServer
	}
	if cfg.Server == "" {
		cfg.Server = ServerAddr
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	if flagPlain {
		cfg.Plain = true
	}
	return cfg, nil
}

func newClient() (*control.Client, error) {
	cfg, err := settings()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token found. Run 'wsotp auth <token>' first")
	}
	c := control.NewClient(cfg.Server, cfg.Token)
	c.Plain = cfg.Plain
	return c, nil
}

// call runs one request on a fresh connection.
func call(command string, args, out interface{}) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	conn, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Call(ctx, command, args, out)
}

// telegramID reads the user from args[i] or falls back to the saved default.
func telegramID(args []string, i int) (int64, error) {
	if len(args) > i {
		id, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid telegram id %q", args[i])
		}
		return id, nil
	}
	cfg, err := settings()
	if err != nil {
		return 0, err
	}
	if cfg.TelegramID == 0 {
		return 0, fmt.Errorf("telegram id required (or save one with 'wsotp auth --user')")
	}
	return cfg.TelegramID, nil
}

var authUser int64

var authCmd = &cobra.Command{
	Use:   "auth [token]",
	Short: "Save the admin token and server address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg.Token = args[0]
		if flagServer != "" {
			cfg.Server = flagServer
		}
		if flagPlain {
			cfg.Plain = true
		}
		if authUser != 0 {
			cfg.TelegramID = authUser
		}
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("error saving config: %w", err)
		}
		path, _ := config.GetConfigPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}

func init() {
	authCmd.Flags().Int64Var(&authUser, "user", 0, "default telegram id for per-user commands")
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage a user's remote accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list [telegram_id]",
	Short: "List a user's accounts with pool usage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := telegramID(args, 0)
		if err != nil {
			return err
		}
		var accounts []protocol.Account
		if err := call(protocol.CmdAccountsList, protocol.UserArgs{TelegramID: id}, &accounts); err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts.")
			return nil
		}

		t := table.New().Headers("ID", "NAME", "USERNAME", "STATE", "USAGE", "")
		for _, a := range accounts {
			state := "inactive"
			switch {
			case a.LoggedIn:
				state = "online"
			case a.Active:
				state = "logged out"
			}
			selected := ""
			if a.Selected {
				selected = "selected"
			}
			t.Row(strconv.FormatUint(uint64(a.ID), 10), a.Label, a.Username, state,
				fmt.Sprintf("%d/%d", a.Usage, a.Capacity), selected)
		}
		fmt.Println(t.Render())
		return nil
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <telegram_id> <name> <username> <password>",
	Short: "Add or update an account; credentials are checked by logging in",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := telegramID(args, 0)
		if err != nil {
			return err
		}
		var res protocol.AddAccountResult
		err = call(protocol.CmdAccountsAdd, protocol.AddAccountArgs{
			TelegramID: id,
			CustomName: args[1],
			Username:   args[2],
			Password:   args[3],
		}, &res)
		if err != nil {
			return err
		}
		verb := "Updated"
		if res.Created {
			verb = "Added"
		}
		fmt.Printf("%s account %s (%s), id %d\n", verb, res.Account.Label, res.Account.Username, res.Account.ID)
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <telegram_id> <username>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := telegramID(args, 0)
		if err != nil {
			return err
		}
		if err := call(protocol.CmdAccountsRemove, protocol.RemoveAccountArgs{TelegramID: id, Username: args[1]}, nil); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[1])
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [telegram_id] [account_id]",
	Short: "Log a user's accounts in again",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := telegramID(args, 0)
		if err != nil {
			return err
		}
		ra := protocol.RefreshArgs{TelegramID: id}
		if len(args) == 2 {
			acc, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[1])
			}
			ra.AccountID = uint(acc)
		}
		var res protocol.RefreshResult
		if err := call(protocol.CmdPoolRefresh, ra, &res); err != nil {
			return err
		}
		fmt.Printf("%d/%d accounts logged in\n", res.LoggedIn, res.Total)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show numbers being tracked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st protocol.PoolStatus
		if err := call(protocol.CmdPoolStatus, nil, &st); err != nil {
			return err
		}
		fmt.Printf("Leases in use: %d, tracking: %d\n", st.LeasesInUse, st.Tracking)
		if len(st.Tasks) == 0 {
			return nil
		}
		t := table.New().Headers("NUMBER", "USER", "ACCOUNT", "STATUS", "CHECKS", "AGE")
		for _, task := range st.Tasks {
			t.Row("+"+task.CC+" "+task.Phone, strconv.FormatUint(uint64(task.UserID), 10),
				task.Account, task.Status, strconv.Itoa(task.Checks),
				time.Since(task.Since).Round(time.Second).String())
		}
		fmt.Println(t.Render())
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <phone>",
	Short: "Stop tracking a number and release its lease (no cleanup)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(protocol.CmdTaskCancel, protocol.CancelArgs{Phone: args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Stopped tracking %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st protocol.Stats
		if err := call(protocol.CmdStats, nil, &st); err != nil {
			return err
		}
		fmt.Printf("Day %s (%d users)\n", st.Day, st.Users)
		fmt.Printf("  added    %d (total %d)\n", st.Added, st.TotalAdded)
		fmt.Printf("  success  %d (total %d)\n", st.Success, st.TotalSuccess)
		fmt.Printf("  deleted  %d (total %d)\n", st.Deleted, st.TotalDeleted)
		fmt.Printf("Next reset %s\n", st.NextReset.Local().Format(time.RFC1123))
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <text>",
	Short: "Show the numbers the bot would find in text (offline)",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		numbers := extract.Numbers(strings.Join(args, " "))
		if len(numbers) == 0 {
			fmt.Println("No phone numbers found.")
			return
		}
		for i, n := range numbers {
			fmt.Printf("%d. +%s %s\n", i+1, n.CC, n.Phone)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of tracked numbers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		bus := events.NewBusWithBuffer(500)
		defer bus.Close()
		logger.SetEventBus(bus)
		logger.SetTUIMode(true)
		defer logger.SetTUIMode(false)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		watchErr := make(chan error, 1)
		go func() {
			watchErr <- c.WatchWithReconnect(ctx, bus, nil)
		}()

		if err := tui.Run(bus); err != nil {
			return err
		}
		cancel()
		if err := <-watchErr; control.IsAuthError(err) {
			return err
		}
		return nil
	},
}
