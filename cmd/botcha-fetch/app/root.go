// Package app provides the commands of botcha-fetch, a command line BOTCHA client.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/layer-3/botcha"
	"github.com/layer-3/botcha/internal/obs"
	"github.com/layer-3/botcha/verify"
	"github.com/spf13/cobra"
)

type clientFlags struct {
	baseURL   string
	appID     string
	audience  string
	agent     string
	timeout   time.Duration
	noToken   bool
	logLevel  string
	method    string
	data      string
	headers   []string
	secret    string
	requireIP string
}

// NewRootCmd creates the root command of botcha-fetch
func NewRootCmd() *cobra.Command {
	f := &clientFlags{}

	rootCmd := &cobra.Command{
		Use:               "botcha-fetch URL",
		DisableAutoGenTag: true,
		Short:             "Send an HTTP request with BOTCHA token handling",
		Long: `botcha-fetch solves a BOTCHA challenge, attaches the resulting bearer token
to the request and transparently handles 401 (token refresh) and 403 (inline
challenge) responses. The response body is written to stdout.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := f.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			var body io.Reader
			if f.data != "" {
				body = strings.NewReader(f.data)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(f.method), args[0], body)
			if err != nil {
				return err
			}
			for _, h := range f.headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, expected Name: value", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			cmd.PrintErrln(resp.Status)
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("request failed with %s", resp.Status)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.baseURL, "base-url", botcha.DefaultBaseURL, "Issuer base URL")
	pf.StringVar(&f.appID, "app-id", "", "App the challenges and tokens are scoped to")
	pf.StringVar(&f.audience, "audience", "", "Audience claim to request")
	pf.StringVar(&f.agent, "agent", "", "User-Agent identifying this client")
	pf.DurationVar(&f.timeout, "timeout", botcha.DefaultTimeout, "Per request timeout")
	pf.StringVar(&f.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.Flags().BoolVar(&f.noToken, "no-token", false, "Do not attach a bearer token")
	rootCmd.Flags().StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method")
	rootCmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body")
	rootCmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Extra request header, repeatable")

	rootCmd.AddCommand(newTokenCmd(f))
	rootCmd.AddCommand(newVerifyCmd(f))

	return rootCmd
}

func (f *clientFlags) client(cmd *cobra.Command) (*botcha.Client, error) {
	logger, err := obs.NewLogger(cmd.ErrOrStderr(), f.logLevel, true)
	if err != nil {
		return nil, err
	}

	return botcha.New(
		botcha.WithBaseURL(f.baseURL),
		botcha.WithAppID(f.appID),
		botcha.WithAudience(f.audience),
		botcha.WithAgentIdentity(f.agent),
		botcha.WithTimeout(f.timeout),
		botcha.WithAutoToken(!f.noToken),
		botcha.WithLogger(logger),
	)
}

func newTokenCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Solve a challenge and print the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			token, err := client.Token(cmd.Context())
			if err != nil {
				return err
			}
			_, expiresAt := client.Session().AccessToken()

			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"access_token":  token,
				"expires_at":    expiresAt.UTC().Format(time.RFC3339),
				"refresh_token": client.Session().RefreshToken(),
			})
		},
	}
}

func newVerifyCmd(f *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify an access token with the shared secret",
		Long: `verify checks a token the way a resource server would. The secret is read
from --secret or the BOTCHA_SECRET environment variable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := f.secret
			if secret == "" {
				secret = os.Getenv("BOTCHA_SECRET")
			}

			var opts []verify.Option
			if f.audience != "" {
				opts = append(opts, verify.WithAudience(f.audience))
			}
			if f.requireIP != "" {
				opts = append(opts, verify.WithClientIP(f.requireIP))
			}

			result := verify.Verify(args[0], secret, opts...)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(verifyOutput(result)); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("token rejected: %s", result.Kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.secret, "secret", "", "Shared verification secret")
	cmd.Flags().StringVar(&f.requireIP, "client-ip", "", "Require the token to be bound to this IP")
	return cmd
}

func verifyOutput(result verify.Result) map[string]any {
	out := map[string]any{"valid": result.Valid}
	if !result.Valid {
		out["kind"] = result.Kind
		out["error"] = result.Error
		return out
	}
	p := result.Payload
	out["payload"] = map[string]any{
		"sub":         p.Subject,
		"jti":         p.ID,
		"type":        p.Type,
		"iat":         p.IssuedAt.Unix(),
		"exp":         p.ExpiresAt.Unix(),
		"solveTimeMs": p.SolveTime.Milliseconds(),
		"aud":         p.Audience,
		"client_ip":   p.ClientIP,
		"app_id":      p.AppID,
	}
	return out
}
