package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL           string
	BindDN        string
	BindPassword  string
	SkipTLSVerify bool
	ConfigFile    string
	Output        string // "text" | "json" | "yaml"
	LogLevel      string
	LogFormat     string // "text" | "json"

	Config *FileConfig
	Logger hclog.Logger

	// Dial opens a connected client. Tests replace it.
	Dial func(ctx context.Context, cfg *ldapclient.ConnectionConfig) (ldapclient.Client, error)
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for dsadmin.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{Dial: dial})
}

// NewRootCommandWithOptions creates the root command around opts.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsadmin",
		Short: "Administer 389 Directory Server replication",
		Long: `Inspect and drive 389 Directory Server replication: agreements,
replica update vectors, replicas and backends.

Connection settings come from flags, then DIRSRV_* environment variables,
then the YAML file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.URL, "url", "", "LDAP URL of the server (env DIRSRV_LDAP_URL)")
	flags.StringVar(&opts.BindDN, "bind-dn", "", "bind DN (env DIRSRV_BIND_DN, default cn=Directory Manager)")
	flags.StringVar(&opts.BindPassword, "bind-password", "", "bind password (env DIRSRV_BIND_PASSWORD)")
	flags.BoolVar(&opts.SkipTLSVerify, "skip-tls-verify", false, "skip server certificate verification (env DIRSRV_SKIP_TLS_VERIFY)")
	flags.StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file (env DIRSRV_CONFIG)")
	flags.StringVarP(&opts.Output, "output", "o", "text", "output format (text|json|yaml)")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "log level (trace|debug|info|warn|error|off)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(NewAgreementCommand(opts))
	cmd.AddCommand(NewRUVCommand(opts))
	cmd.AddCommand(NewReplicaCommand(opts))
	cmd.AddCommand(NewBackendCommand(opts))

	return cmd
}

// resolve merges flags, environment and config file, then sets up logging.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if !flags.Changed("config") {
		o.ConfigFile = os.Getenv("DIRSRV_CONFIG")
	}
	cfg, err := LoadConfig(o.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	o.Config = cfg

	pick := func(target *string, flag, env, fromFile string) {
		if flags.Changed(flag) {
			return
		}
		if v, ok := os.LookupEnv(env); ok {
			*target = v
			return
		}
		*target = fromFile
	}
	pick(&o.URL, "url", "DIRSRV_LDAP_URL", cfg.URL)
	pick(&o.BindDN, "bind-dn", "DIRSRV_BIND_DN", cfg.BindDN)
	pick(&o.BindPassword, "bind-password", "DIRSRV_BIND_PASSWORD", cfg.BindPassword)
	pick(&o.Output, "output", "DIRSRV_OUTPUT", cfg.Output)
	pick(&o.LogLevel, "log-level", "DIRSRV_LOG_LEVEL", cfg.LogLevel)
	pick(&o.LogFormat, "log-format", "DIRSRV_LOG_FORMAT", cfg.LogFormat)

	if !flags.Changed("skip-tls-verify") {
		o.SkipTLSVerify = cfg.SkipTLSVerify
		if v, ok := os.LookupEnv("DIRSRV_SKIP_TLS_VERIFY"); ok {
			skip, err := strconv.ParseBool(v)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid DIRSRV_SKIP_TLS_VERIFY %q", v))
			}
			o.SkipTLSVerify = skip
		}
	}

	if !slices.Contains(ValidOutputs, o.Output) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid output %q: must be one of %v", o.Output, ValidOutputs))
	}

	level := hclog.LevelFromString(o.LogLevel)
	if level == hclog.NoLevel {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid log level %q", o.LogLevel))
	}
	o.Logger = hclog.New(&hclog.LoggerOptions{
		Name:       "dsadmin",
		Level:      level,
		Output:     cmd.ErrOrStderr(),
		JSONFormat: o.LogFormat == "json",
	})
	cmd.SetContext(withLibraryLogging(cmd.Context(), level))

	return nil
}

// withLibraryLogging sends the ldap package's structured logs to stderr at level.
func withLibraryLogging(ctx context.Context, level hclog.Level) context.Context {
	if level == hclog.Off {
		return ctx
	}
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("dsadmin"),
		tfsdklog.WithLevel(level),
		tfsdklog.WithoutLocation(),
	)
	return ldapclient.WithSubsystems(ctx, tflog.Options{tflog.WithLevel(level)})
}

// connectionConfig builds the client configuration for url, or for the
// configured URL when url is empty.
func (o *RootOptions) connectionConfig(url string) (*ldapclient.ConnectionConfig, error) {
	if url == "" {
		url = o.URL
	}
	if url == "" {
		return nil, NewExitError(ExitCommandError, "no server given: set --url or DIRSRV_LDAP_URL")
	}

	cfg := ldapclient.DefaultConfig()
	cfg.LDAPURLs = []string{url}
	cfg.BindDN = o.BindDN
	cfg.Password = o.BindPassword
	cfg.MaxConnections = 2
	if o.Config != nil {
		cfg.Timeout = o.Config.ConnectTimeout
		cfg.TLSCACertFile = o.Config.TLSCACertFile
	}
	if o.SkipTLSVerify {
		if cfg.TLSConfig == nil {
			cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cfg.TLSConfig.InsecureSkipVerify = true
	}
	return cfg, nil
}

// open connects to url (or the configured URL) and returns the managers
// commands work with. The caller closes it.
func (o *RootOptions) open(ctx context.Context, url string) (*ldapclient.ProviderData, error) {
	cfg, err := o.connectionConfig(url)
	if err != nil {
		return nil, err
	}

	o.logger().Debug("connecting", "url", cfg.LDAPURLs[0], "bind_dn", cfg.BindDN)
	client, err := o.Dial(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to "+cfg.LDAPURLs[0], err)
	}
	return ldapclient.NewProviderData(client, nil), nil
}

func (o *RootOptions) logger() hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

func dial(ctx context.Context, cfg *ldapclient.ConnectionConfig) (ldapclient.Client, error) {
	client, err := ldapclient.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// closeSession closes sess, logging rather than returning a failure.
func (o *RootOptions) closeSession(sess *ldapclient.ProviderData) {
	if err := sess.Close(); err != nil {
		o.logger().Warn("closing connection", "error", err)
	}
}

func (o *RootOptions) printer(cmd *cobra.Command) *Printer {
	return &Printer{Format: o.Output, Writer: cmd.OutOrStdout()}
}
