package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/authsession/internal/identity"
	"github.com/tonimelisma/authsession/internal/session"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE:  runLogin,
	}

	cmd.Flags().String("email", "", "account email")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out here and in every other session of the backend",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the current access token",
		RunE:  runToken,
	}
}

// errNotLoggedIn is returned by commands that need a session.
var errNotLoggedIn = errors.New("not logged in, run 'authsession login' first")

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	email, password, err := readCredentials(cmd, cc)
	if err != nil {
		return err
	}

	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	cc.Logger.Info("login started", "email", identity.NormalizeEmail(email))

	user, err := s.Manager.SignIn(cmd.Context(), email, password)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			return fmt.Errorf("login failed: wrong email or password")
		}

		return fmt.Errorf("login failed: %w", err)
	}

	cc.Logger.Info("login successful", "email", user.Email)
	statusf(cc.Flags.Quiet, "Signed in as %s.\n", user.Email)

	return nil
}

// readCredentials takes the email from --email and the password from stdin
// with --password-stdin. Missing values are prompted for on a terminal.
func readCredentials(cmd *cobra.Command, cc *CLIContext) (string, string, error) {
	email, err := cmd.Flags().GetString("email")
	if err != nil {
		return "", "", err
	}

	fromStdin, err := cmd.Flags().GetBool("password-stdin")
	if err != nil {
		return "", "", err
	}

	in := bufio.NewReader(cmd.InOrStdin())

	if email == "" {
		if !cc.Interactive {
			return "", "", fmt.Errorf("--email is required in non-interactive mode")
		}

		fmt.Fprint(cmd.ErrOrStderr(), "Email: ")

		if email, err = readLine(in); err != nil {
			return "", "", fmt.Errorf("reading email: %w", err)
		}
	}

	if !fromStdin {
		if !cc.Interactive {
			return "", "", fmt.Errorf("--password-stdin is required in non-interactive mode")
		}

		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	}

	password, err := readLine(in)
	if err != nil {
		return "", "", fmt.Errorf("reading password: %w", err)
	}

	if email == "" || password == "" {
		return "", "", fmt.Errorf("email and password are required")
	}

	return email, password, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	cc.Logger.Info("logout started")

	if err := s.Manager.SignOut(cmd.Context()); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	cc.Logger.Info("logout successful")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.Manager.Load(cmd.Context())
	if err != nil {
		if errors.Is(err, session.ErrNotSignedIn) {
			cc.Logger.Debug("whoami without session", "error", err)
			return errNotLoggedIn
		}

		return fmt.Errorf("fetching user profile: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), whoamiOutput{
			Email:       user.Email,
			Permissions: nonNil(user.Permissions),
			Roles:       nonNil(user.Roles),
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "User:        %s\n", user.Email)
	fmt.Fprintf(w, "Roles:       %s\n", joinOrNone(user.Roles))
	fmt.Fprintf(w, "Permissions: %s\n", joinOrNone(user.Permissions))

	return nil
}

// tokenOutput is the JSON schema for `token --json`.
type tokenOutput struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func runToken(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewCLISession(cc)
	if err != nil {
		return err
	}
	defer s.Close()

	tok, err := s.Client.TokenSource(cmd.Context()).Token()
	if err != nil {
		if errors.Is(err, session.ErrNotSignedIn) {
			return errNotLoggedIn
		}

		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), tokenOutput{AccessToken: tok.AccessToken, TokenType: tok.Type()})
	}

	fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)

	return nil
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}

	return strings.Join(values, ", ")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
