// Registers a test device against a real backup service and stores its token
// in .testdata/ for the live E2E tests.
//
// Usage: SAVEKNIGHT_SESSION=<cookie> go run ./cmd/integration-bootstrap --api-url https://staging.example.com
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/saveknight/saveknight-go/internal/app"
	"github.com/saveknight/saveknight-go/internal/config"
	"github.com/saveknight/saveknight-go/testutil"
)

func main() {
	apiURL := flag.String("api-url", "", "backup service base URL (default: SAVEKNIGHT_E2E_API_URL)")
	deviceName := flag.String("device-name", "saveknight-e2e", "device name to register")
	flag.Parse()

	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	if *apiURL == "" {
		*apiURL = os.Getenv("SAVEKNIGHT_E2E_API_URL")
	}

	cookie := os.Getenv("SAVEKNIGHT_SESSION")
	if *apiURL == "" || cookie == "" {
		fmt.Fprintln(os.Stderr, "need --api-url (or SAVEKNIGHT_E2E_API_URL) and SAVEKNIGHT_SESSION")
		os.Exit(2)
	}

	if err := run(root, *apiURL, cookie, *deviceName); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}

func run(root, apiURL, cookie, deviceName string) error {
	ctx := context.Background()
	logger := slog.Default()

	// A missing config file resolves to defaults plus the URL override.
	resolved, err := config.Resolve(config.EnvOverrides{APIURL: apiURL}, config.CLIOverrides{
		ConfigPath: filepath.Join(root, ".testdata", "absent.toml"),
	})
	if err != nil {
		return err
	}

	testdata := filepath.Join(root, ".testdata")

	tmp, err := os.MkdirTemp("", "saveknight-bootstrap-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	svc, err := app.New(ctx, app.Options{
		Config:      resolved,
		DataDir:     testdata,
		TokenPath:   filepath.Join(testdata, "device_token.json"),
		HistoryPath: filepath.Join(tmp, "history.db"),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Login(ctx, cookie, deviceName)
	if err != nil {
		return err
	}

	fmt.Printf("Registered device %s for %s. Token saved to %s.\n",
		st.DeviceID, st.UserEmail, filepath.Join(testdata, "device_token.json"))

	return nil
}
