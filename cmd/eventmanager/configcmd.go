package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/urfave/cli"
)

// storedConfigPath is where `config edit` / `config use` keep the default
// document, and what `start` falls back to when -f is not given.
func storedConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "eventmanager", "eventmanager.yml")
}

func configCommand() cli.Command {
	return cli.Command{
		Name:  "config",
		Usage: "manage the stored config",
		Subcommands: []cli.Command{
			{
				Name:   "show",
				Usage:  "print the stored config",
				Action: configShow,
			},
			{
				Name:   "edit",
				Usage:  "edit the stored config with $EDITOR",
				Action: configEdit,
			},
			{
				Name:      "use",
				Usage:     "replace the stored config with the given file",
				ArgsUsage: "<file>",
				Action:    configUse,
			},
		},
	}
}

func configShow(_ *cli.Context) error {
	b, err := os.ReadFile(storedConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config does not exist; use `eventmanager config edit` to create it")
		}
		return err
	}
	fmt.Print(string(b))
	return nil
}

func configEdit(_ *cli.Context) error {
	path := storedConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}
	// Fall back to vi only when the editor binary is absent. A non-zero exit
	// from a present editor (e.g. an aborted session) is the user's answer.
	bin, err := exec.LookPath(editor)
	if err != nil {
		bin, err = exec.LookPath("vi")
		if err != nil {
			return fmt.Errorf("no editor found: set $EDITOR")
		}
	}
	cmd := exec.Command(bin, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func configUse(ctx *cli.Context) error {
	src := ctx.Args().First()
	if src == "" {
		return fmt.Errorf("usage: eventmanager config use <file>")
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dst := storedConfigPath()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
