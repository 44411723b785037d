package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/mistakeknot/interlock/client"
	"github.com/mistakeknot/interlock/internal/cli"
	"github.com/mistakeknot/interlock/internal/config"
	"github.com/mistakeknot/interlock/pkg/embedded"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	serverURL  string
	project    string
	agent      string
}

func rootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "interlock",
		Short:         "File reservation and conflict resolution for concurrent agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ./interlock.yaml or $HOME/.config/interlock/interlock.yaml)")
	pf.StringVar(&g.serverURL, "server", "", "server base URL (default derived from server.addr)")
	pf.StringVar(&g.project, "project", "", "project id (env INTERLOCK_PROJECT)")
	pf.StringVar(&g.agent, "agent", "", "agent id (env INTERLOCK_AGENT)")

	root.AddCommand(
		serveCmd(g),
		initCmd(),
		reserveCmd(g),
		checkCmd(g),
		releaseCmd(g),
		renewCmd(g),
		listCmd(g),
		statsCmd(g),
		conflictsCmd(g),
		watchCmd(g),
	)
	return root
}

func (g *globals) viper() (*viper.Viper, error) {
	return config.New(g.configPath)
}

// client resolves the server URL, project and agent from flags, then
// INTERLOCK_* variables, then the config file.
func (g *globals) client(requireProject bool) (*client.Client, error) {
	v, err := g.viper()
	if err != nil {
		return nil, err
	}
	project := firstNonEmpty(g.project, v.GetString("project"))
	agent := firstNonEmpty(g.agent, v.GetString("agent"))
	if requireProject && project == "" {
		return nil, errors.New("project required: pass --project or set INTERLOCK_PROJECT")
	}
	base := firstNonEmpty(g.serverURL, v.GetString("url"))
	if base == "" {
		addr := v.GetString("server.addr")
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		base = "http://" + addr
	}
	return client.New(strings.TrimRight(base, "/"), client.WithProject(project), client.WithAgent(agent)), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func printer(cmd *cobra.Command) *cli.Printer {
	return cli.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func serveCmd(g *globals) *cobra.Command {
	var addr, socket, driver string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reservation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := g.viper()
			if err != nil {
				return err
			}
			for key, val := range map[string]string{"server.addr": addr, "server.socket_path": socket, "storage.driver": driver} {
				if val != "" {
					v.Set(key, val)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := embedded.New(ctx, cfg)
			if err != nil {
				return err
			}
			grp, gctx := errgroup.WithContext(ctx)
			grp.Go(func() error {
				return srv.Serve(gctx)
			})
			grp.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return grp.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&socket, "socket", "", "unix socket path (overrides server.socket_path)")
	cmd.Flags().StringVar(&driver, "driver", "", "storage driver: memory, sqlite or redis")
	return cmd
}

func initCmd() *cobra.Command {
	var path, driver string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := printer(cmd)
			if err := cli.InitConfigFile(path, driver, force); err != nil {
				if errors.Is(err, cli.ErrConfigExists) {
					return p.Error(err.Error(), "pass --force to overwrite")
				}
				return p.Error(err.Error())
			}
			p.Success("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", config.FileName+".yaml", "config file to write")
	cmd.Flags().StringVar(&driver, "driver", "", "storage driver: memory, sqlite or redis")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
