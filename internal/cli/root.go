// Package cli provides the command-line interface for proxypal.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treykane/proxypal/internal/accesskey"
	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/connection"
	"github.com/treykane/proxypal/internal/doctor"
	"github.com/treykane/proxypal/internal/events"
	"github.com/treykane/proxypal/internal/healthcheck"
	"github.com/treykane/proxypal/internal/history"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/portalloc"
	"github.com/treykane/proxypal/internal/reaper"
	"github.com/treykane/proxypal/internal/security"
	"github.com/treykane/proxypal/internal/session"
	"github.com/treykane/proxypal/internal/sslocal"
	"github.com/treykane/proxypal/internal/store"
	"github.com/treykane/proxypal/internal/sysproxy"
	"github.com/treykane/proxypal/internal/ui"
	"github.com/treykane/proxypal/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "proxypal",
		Short:         "Shadowsocks connection manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(os.Stderr, debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			// The dashboard owns the terminal; logs go to a file or nowhere.
			closeLog := dashboardLogging(debug)
			defer closeLog()
			mgr := newManager(cfg)
			return ui.Run(cfg, mgr, sysproxy.New(cfg.SystemProxy.NetworkService))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newConnectCmd())
	root.AddCommand(newDisconnectCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newServersCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newProxyCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newFeedbackCmd())
	return root
}

func configureLogging(w io.Writer, debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func dashboardLogging(debug bool) func() {
	if !debug {
		configureLogging(io.Discard, false)
		return func() {}
	}
	path, err := appconfig.LogFilePath()
	if err != nil {
		configureLogging(io.Discard, false)
		return func() {}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		configureLogging(io.Discard, false)
		return func() {}
	}
	configureLogging(f, true)
	return func() { _ = f.Close() }
}

func newManager(cfg appconfig.Config) *connection.Manager {
	return connection.NewManager(connection.Config{
		Deps: session.Deps{
			Launcher: sslocal.New(cfg.ProxyClient.Binary),
			Verifier: healthcheck.New(cfg.Connection.HealthURL, cfg.Connection.HealthConnectTimeout()),
			Ports:    portalloc.New(),
		},
		Sweeper: reaper.New(cfg.ProxyClient.ProcessName, cfg.Connection.SweepTimeout()),
		Options: session.Options{
			StartPort:   uint16(cfg.Connection.StartPort),
			SettleDelay: cfg.Connection.SettleDelay(),
			StopTimeout: cfg.Connection.StopTimeout(),
		},
		Journal:        events.NewStore(),
		Touch:          history.Touch,
		PersistRuntime: true,
	})
}

// resolveServer turns a selector into a server. An ss:// key is parsed
// directly; anything else is looked up in the saved list. An empty selector
// picks the most recently used saved server.
func resolveServer(selector string) (model.ServerConfig, error) {
	selector = strings.TrimSpace(selector)
	if strings.HasPrefix(selector, "ss://") {
		return accesskey.Parse(selector)
	}
	servers, err := store.Load()
	if err != nil {
		return model.ServerConfig{}, err
	}
	if len(servers) == 0 {
		return model.ServerConfig{}, fmt.Errorf("no saved servers; run `proxypal servers add <ss://key>` first")
	}
	if selector == "" {
		if lastUsed, err := history.LastUsed(); err == nil {
			servers = history.SortServersRecent(servers, lastUsed)
		}
		return servers[0], nil
	}
	return store.Find(servers, selector)
}

func newConnectCmd() *cobra.Command {
	var systemProxy bool
	cmd := &cobra.Command{
		Use:   "connect [index|ref|ss://key]",
		Short: "Open a tunnel and keep it up until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			selector := ""
			if len(args) == 1 {
				selector = args[0]
			}
			server, err := resolveServer(selector)
			if err != nil {
				return err
			}
			if err := sslocal.New(cfg.ProxyClient.Binary).EnsureBinary(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr := newManager(cfg)
			results := make(chan model.Result, 1)
			id := mgr.Connect(server, func(res model.Result) { results <- res })
			fmt.Printf("connecting to %s (session %s)...\n", server.DisplayName(), id)

			var res model.Result
			select {
			case res = <-results:
			case <-ctx.Done():
				mgr.Disconnect()
				fmt.Println("cancelled")
				return nil
			}
			if !res.Success {
				slog.Debug("connect failed", "server", server.Ref(), "detail", security.DebugMessage(res.Err))
				return errors.New(security.UserMessage(res.Err, cfg.Security.RedactErrors))
			}
			fmt.Printf("connected to %s: socks5://%s:%d\n", server.DisplayName(), util.LoopbackHost, res.Port)

			if systemProxy {
				toggler := sysproxy.New(cfg.SystemProxy.NetworkService)
				if err := toggler.Enable(ctx, res.Port); err != nil {
					fmt.Fprintf(os.Stderr, "system proxy not enabled: %s\n", security.UserMessage(err, cfg.Security.RedactErrors))
				} else {
					fmt.Println("system proxy enabled")
					defer func() {
						dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						if err := toggler.Disable(dctx); err != nil {
							slog.Warn("failed to disable system proxy", "error", err)
						}
					}()
				}
			}

			fmt.Println("press Ctrl+C to disconnect")
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					mgr.Disconnect()
					fmt.Println("disconnected")
					return nil
				case <-ticker.C:
					if _, ok := mgr.Active(); !ok {
						mgr.Disconnect()
						return fmt.Errorf("proxy client exited unexpectedly; see `proxypal events`")
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&systemProxy, "system-proxy", false, "route the system SOCKS proxy through the tunnel while connected")
	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Stop any running proxy client and turn off the system proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			status, err := connection.LoadRuntime()
			if err != nil {
				slog.Warn("failed to read runtime state", "error", err)
			}

			rep := reaper.New(cfg.ProxyClient.ProcessName, cfg.Connection.SweepTimeout()).Sweep(cmd.Context())
			if rep.Matched > 0 {
				evt := events.Event{
					Timestamp: time.Now().UTC(),
					EventType: events.OrphansSwept,
					Message:   rep.String(),
				}
				if status.Session != nil {
					evt.SessionID = status.Session.SessionID
					evt.ServerRef = status.Session.ServerRef
					evt.ServerName = status.Session.ServerName
				}
				if err := events.NewStore().Append(evt); err != nil {
					slog.Warn("failed to append connection event", "error", err)
				}
			}

			toggler := sysproxy.New(cfg.SystemProxy.NetworkService)
			if toggler.Supported() {
				if err := toggler.Disable(cmd.Context()); err != nil {
					fmt.Fprintf(os.Stderr, "system proxy: %s\n", security.UserMessage(err, cfg.Security.RedactErrors))
				}
			}
			if err := connection.ClearRuntime(); err != nil {
				return err
			}
			fmt.Printf("stopped %d proxy client process(es)", rep.Terminated)
			if rep.Suppressed > 0 {
				fmt.Printf(", %d could not be confirmed stopped", rep.Suppressed)
			}
			fmt.Println()
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the tunnel recorded by the last proxypal process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := connection.LoadRuntime()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(status)
			}
			si := status.Session
			if si == nil {
				fmt.Println("disconnected")
				return nil
			}
			fmt.Printf("%-24s %-16s %-8s %-8s %-10s %s\n", "SERVER", "STATE", "PORT", "PID", "UPTIME", "REF")
			fmt.Printf("%-24s %-16s %-8d %-8d %-10s %s\n", util.Truncate(si.ServerName, 24), si.State, si.Port, si.PID, (time.Duration(si.UptimeSec) * time.Second).String(), si.ServerRef)
			if si.LastError != "" {
				fmt.Printf("last error: %s\n", si.LastError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		serverSel string
		sessionID string
		eventType string
		since     time.Duration
		limit     int
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show connection lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{SessionID: sessionID, EventType: eventType, Limit: limit}
			if serverSel != "" {
				q.ServerRef = serverSel
				if servers, err := store.Load(); err == nil {
					if s, err := store.Find(servers, serverSel); err == nil {
						q.ServerRef = s.Ref()
					}
				}
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			list, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if jsonOut {
				if list == nil {
					list = []events.Event{}
				}
				return writeJSON(list)
			}
			fmt.Printf("%-20s %-18s %-16s %-14s %-6s %s\n", "TIME", "EVENT", "SERVER", "KIND", "PORT", "MESSAGE")
			for _, evt := range list {
				fmt.Printf("%-20s %-18s %-16s %-14s %-6d %s\n",
					evt.Timestamp.Local().Format("2006-01-02 15:04:05"),
					evt.EventType,
					util.Truncate(util.DefaultString(evt.ServerName, evt.ServerRef), 16),
					util.EmptyDash(string(evt.Kind)),
					evt.Port,
					evt.Message,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverSel, "server", "", "filter by server index or ref")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this duration (e.g. 1h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newProxyCmd() *cobra.Command {
	root := &cobra.Command{Use: "proxy", Short: "Toggle the system SOCKS proxy"}

	var port int
	on := &cobra.Command{
		Use:   "on",
		Short: "Point the system SOCKS proxy at the local tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			if port == 0 {
				status, err := connection.LoadRuntime()
				if err != nil {
					return err
				}
				if !status.Connected {
					return fmt.Errorf("no running tunnel; pass --port or run `proxypal connect` first")
				}
				port = int(status.Session.Port)
			}
			if err := util.ValidatePort(port); err != nil {
				return err
			}
			if err := sysproxy.New(cfg.SystemProxy.NetworkService).Enable(cmd.Context(), uint16(port)); err != nil {
				return err
			}
			fmt.Printf("system proxy set to socks5://%s:%d\n", util.LoopbackHost, port)
			return nil
		},
	}
	on.Flags().IntVar(&port, "port", 0, "local SOCKS port (defaults to the running tunnel)")

	off := &cobra.Command{
		Use:   "off",
		Short: "Turn the system SOCKS proxy off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			if err := sysproxy.New(cfg.SystemProxy.NetworkService).Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("system proxy disabled")
			return nil
		},
	}

	root.AddCommand(on, off)
	return root
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the proxy client, saved servers and local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			if jsonOut {
				if report.Issues == nil {
					report.Issues = []doctor.Issue{}
				}
				return writeJSON(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			fmt.Printf("%-8s %-20s %-24s %s\n", "SEVERITY", "CHECK", "TARGET", "MESSAGE")
			for _, issue := range report.Issues {
				fmt.Printf("%-8s %-20s %-24s %s\n", issue.Severity, issue.Check, util.Truncate(issue.Target, 24), issue.Message)
				if issue.Recommendation != "" {
					fmt.Printf("%-8s %-20s %-24s -> %s\n", "", "", "", issue.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <text>",
		Short: "Save a feedback note locally",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.SaveFeedback(strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Println("thanks, feedback saved")
			return nil
		},
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
