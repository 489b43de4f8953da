package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// errAborted is returned when the user cancels an interactive prompt.
var errAborted = errors.New("canceled")

// Prompts are package variables so tests can answer them.
var (
	stdinIsTerminal = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}
	promptCookie = huhPromptCookie
	pickGames    = huhPickGames
)

func huhPromptCookie() (string, error) {
	var cookie string

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Session cookie").
			Description("Copy the connect.sid cookie from a signed-in browser session.").
			EchoMode(huh.EchoModePassword).
			Value(&cookie),
	)).Run()

	return cookie, formErr(err)
}

// huhPickGames offers the detected games in scan order. Nothing is
// preselected.
func huhPickGames(options []gameOption) ([]string, error) {
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%s)", o.Name, formatSize(o.Size)), o.Name))
	}

	var picked []string

	err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Games to back up").
			Options(opts...).
			Value(&picked),
	)).Run()

	return picked, formErr(err)
}

// gameOption is one row of the backup picker.
type gameOption struct {
	Name string
	Size int64
}

func formErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}

	return err
}
