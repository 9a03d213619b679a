package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Matteomic94/ElementMedica-sub000/internal/version"
)

var (
	cfgFile   string
	apiURL    string
	apiToken  string
	verbose   bool
	outputFmt string
	timeout   time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authctl",
		Short: "ElementMedica auth CLI",
		Long: `authctl exercises the authentication API of a running ElementMedica server:
log in, verify and refresh tokens, and revoke sessions.`,
		Version:      version.String(),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			logVerbose("API URL: %s", apiURL)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.authctl.yaml)")
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL")
	root.PersistentFlags().StringVar(&apiToken, "token", "", "access token for authenticated calls")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format (table, json)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	_ = viper.BindPFlag("api_url", root.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("api_token", root.PersistentFlags().Lookup("token"))

	root.AddCommand(newLoginCmd(), newRefreshCmd(), newVerifyCmd(), newLogoutCmd(), newLogoutAllCmd(), newHealthCmd(), newConfigCmd())
	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".authctl")
	}

	viper.SetEnvPrefix("AUTHCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logVerbose("Using config file: %s", viper.ConfigFileUsed())
	}

	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
	if apiToken == "" {
		apiToken = viper.GetString("api_token")
	}
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
}

func client() *Client { return NewClient(apiURL, apiToken) }

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func newLoginCmd() *cobra.Command {
	var identifier, password string
	var remember bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email, username or tax code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("AUTHCTL_PASSWORD")
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := client().Login(ctx, identifier, password, remember)
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVarP(&identifier, "identifier", "i", "", "email, username or tax code")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or AUTHCTL_PASSWORD)")
	cmd.Flags().BoolVar(&remember, "remember-me", false, "request long-lived tokens")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <refresh-token>",
		Short: "Exchange a refresh token for a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := client().Refresh(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the access token and show the resolved principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			v, err := client().Verify(ctx)
			if err != nil {
				return err
			}
			if outputFmt == "json" {
				return printJSON(cmd.OutOrStdout(), v)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			printUser(w, v.User)
			fmt.Fprintf(w, "PERMISSIONS\t%s\n", strings.Join(v.Permissions, ","))
			return w.Flush()
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <refresh-token>",
		Short: "Revoke a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := client().Logout(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newLogoutAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout-all",
		Short: "Revoke every refresh token of the authenticated principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			n, err := client().LogoutAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check API health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			h, err := client().Health(ctx)
			if err != nil {
				return err
			}
			if outputFmt == "json" {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s version=%s db=%s cache=%s\n", h.Status, h.Version, h.DB, h.Cache)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := "(not set)"
			if apiToken != "" {
				token = "(set)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api_url: %s\napi_token: %s\nconfig_file: %s\n", apiURL, token, viper.ConfigFileUsed())
			return nil
		},
	})
	return cmd
}

func printSession(w io.Writer, s Session) error {
	if outputFmt == "json" {
		return printJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ACCESS TOKEN\t%s\n", s.AccessToken)
	fmt.Fprintf(tw, "REFRESH TOKEN\t%s\n", s.RefreshToken)
	fmt.Fprintf(tw, "EXPIRES IN\t%ds\n", s.ExpiresIn)
	printUser(tw, s.User)
	return tw.Flush()
}

func printUser(w io.Writer, u User) {
	fmt.Fprintf(w, "USER\t%s (%s)\n", u.Email, u.ID)
	if u.Company != nil {
		fmt.Fprintf(w, "COMPANY\t%s (%s)\n", u.Company.Name, u.Company.ID)
	}
	if u.Tenant != nil {
		fmt.Fprintf(w, "TENANT\t%s (%s)\n", u.Tenant.Name, u.Tenant.ID)
	}
	fmt.Fprintf(w, "ROLES\t%s\n", strings.Join(u.Roles, ","))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func logVerbose(format string, args ...any) {
	if verbose {
		log.Printf("[VERBOSE] "+format, args...)
	}
}
