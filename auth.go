package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saveknight/saveknight-go/internal/auth"
)

// envSessionCookie supplies the login cookie non-interactively.
const envSessionCookie = "SAVEKNIGHT_SESSION"

func newLoginCmd() *cobra.Command {
	var cookie, deviceName string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Register this device with a signed-in web session",
		Long: `Register this device with the backup service. The web session cookie
(connect.sid) is read from --cookie, then SAVEKNIGHT_SESSION, then an
interactive prompt when stdin is a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, cookie, deviceName)
		},
	}

	cmd.Flags().StringVar(&cookie, "cookie", "", "web session cookie value")
	cmd.Flags().StringVar(&deviceName, "device-name", "", "name shown for this device (default: hostname)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved device token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, cookie, deviceName string) error {
	cc := mustCLIContext(cmd.Context())

	cookie, err := loginCookie(cookie)
	if err != nil {
		return err
	}

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Login(cmd.Context(), cookie, deviceName)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return errors.New("the session cookie was rejected: sign in on the web again and copy a fresh cookie")
		}

		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), st)
	}

	cc.Statusf("Logged in as %s (device %s).\n", st.UserEmail, st.DeviceName)

	return nil
}

func loginCookie(flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}

	if v := strings.TrimSpace(os.Getenv(envSessionCookie)); v != "" {
		return v, nil
	}

	if !stdinIsTerminal() {
		return "", fmt.Errorf("no session cookie: pass --cookie or set %s", envSessionCookie)
	}

	v, err := promptCookie()
	if err != nil {
		return "", err
	}

	if v = strings.TrimSpace(v); v == "" {
		return "", errors.New("no session cookie entered")
	}

	return v, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.Service(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Logout(); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}
