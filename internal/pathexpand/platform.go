package pathexpand

import (
	"os"
	"path/filepath"
	"runtime"
)

// Variable names recognized in manifest patterns.
const (
	VarHome         = "home"
	VarAppData      = "appData"
	VarLocalAppData = "localAppData"
	VarDocuments    = "documents"
	VarSavedGames   = "savedGames"
	VarOSUserName   = "osUserName"
	VarStoreUserID  = "storeUserId"
	VarXDGData      = "xdgData"
	VarXDGConfig    = "xdgConfig"

	// Windows names used by the ludusavi manifest. winAppData,
	// winLocalAppData and winDocuments read the same directories as
	// appData, localAppData and documents.
	VarWinAppData         = "winAppData"
	VarWinLocalAppData    = "winLocalAppData"
	VarWinLocalAppDataLow = "winLocalAppDataLow"
	VarWinDocuments       = "winDocuments"
	VarWinPublic          = "winPublic"
	VarWinProgramData     = "winProgramData"
	VarWinDir             = "winDir"

	// Install-relative variables. They are valid manifest syntax but this
	// engine does not discover game installs, so they never resolve.
	VarRoot        = "root"
	VarGame        = "game"
	VarBase        = "base"
	VarStoreGameID = "storeGameId"
)

// Platform holds the directory values substituted for pattern variables. An
// empty field means the variable cannot be determined on this platform and
// any pattern using it resolves to nothing.
type Platform struct {
	Home            string
	AppData         string
	LocalAppData    string
	LocalAppDataLow string
	Documents       string
	SavedGames      string
	Public          string
	ProgramData     string
	WinDir          string
	UserName        string
	XDGData         string
	XDGConfig       string

	// StoreUserIDs are launcher account ids (e.g. Steam userdata folders)
	// substituted one at a time for <storeUserId>. When empty the variable
	// becomes a single-segment wildcard.
	StoreUserIDs []string
}

// Policy controls how wildcards and names match. It is fixed when the
// Resolver is built and never inferred from individual paths.
type Policy struct {
	CaseInsensitive       bool
	DoubleStarMatchesZero bool
}

// DefaultPolicy returns the matching policy for the given GOOS: Windows and
// macOS filesystems are case-insensitive by default.
func DefaultPolicy(goos string) Policy {
	return Policy{
		CaseInsensitive:       goos == "windows" || goos == "darwin",
		DoubleStarMatchesZero: true,
	}
}

// DetectPlatform reads the current user's directories from the environment.
func DetectPlatform() Platform {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	p := Platform{
		Home:     home,
		UserName: currentUserName(),
	}

	if home == "" {
		return p
	}

	switch runtime.GOOS {
	case "windows":
		p.AppData = os.Getenv("APPDATA")
		p.LocalAppData = os.Getenv("LOCALAPPDATA")
		p.LocalAppDataLow = filepath.Join(home, "AppData", "LocalLow")
		p.Public = os.Getenv("PUBLIC")
		p.ProgramData = os.Getenv("PROGRAMDATA")
		p.WinDir = envOr("WINDIR", os.Getenv("SystemRoot"))
		p.Documents = filepath.Join(home, "Documents")
		p.SavedGames = filepath.Join(home, "Saved Games")
	case "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		p.AppData = support
		p.LocalAppData = support
		p.Documents = filepath.Join(home, "Documents")
	default:
		p.XDGData = envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
		p.XDGConfig = envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
		p.AppData = p.XDGData
		p.LocalAppData = p.XDGData
		p.Documents = envOr("XDG_DOCUMENTS_DIR", filepath.Join(home, "Documents"))
	}

	return p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func currentUserName() string {
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}

	return os.Getenv("USER")
}

// values returns the substitution candidates for a variable. known is false
// for names the manifest format does not define; an empty slice means the
// variable is known but unavailable here.
func (p Platform) values(name string) (vals []string, known bool) {
	single := func(v string) []string {
		if v == "" {
			return nil
		}

		return []string{v}
	}

	switch name {
	case VarHome:
		return single(p.Home), true
	case VarAppData, VarWinAppData:
		return single(p.AppData), true
	case VarLocalAppData, VarWinLocalAppData:
		return single(p.LocalAppData), true
	case VarWinLocalAppDataLow:
		return single(p.LocalAppDataLow), true
	case VarDocuments, VarWinDocuments:
		return single(p.Documents), true
	case VarWinPublic:
		return single(p.Public), true
	case VarWinProgramData:
		return single(p.ProgramData), true
	case VarWinDir:
		return single(p.WinDir), true
	case VarSavedGames:
		return single(p.SavedGames), true
	case VarOSUserName:
		return single(p.UserName), true
	case VarXDGData:
		return single(p.XDGData), true
	case VarXDGConfig:
		return single(p.XDGConfig), true
	case VarStoreUserID:
		if len(p.StoreUserIDs) == 0 {
			return []string{"*"}, true
		}

		return p.StoreUserIDs, true
	case VarRoot, VarGame, VarBase, VarStoreGameID:
		return nil, true
	default:
		return nil, false
	}
}
