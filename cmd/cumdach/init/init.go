// Package initcmder provides the init command for setting up a .cumdach
// directory: the directory itself, a config.toml, and a signing keyfile.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/config"
	"github.com/amach-health/cumdach/pkg/identity"
)

const (
	dirName     = ".cumdach"
	keyfileName = "identity.key"
)

const initLongDesc string = `Initialize a .cumdach/ directory with a config.toml and a signing keyfile.

Creates a local .cumdach/ directory in the current working directory; it
takes precedence over ~/.cumdach/ so each project can keep an isolated
identity and vault. Pass --config-dir to initialize somewhere else.

The keyfile is the root of everything: encryption keys and tag secrets are
derived from its signatures, so losing it means losing access to stored
data. An existing keyfile is never overwritten. Use --encrypt-keyfile to
seal it under a passphrase.

Examples:
  cumdach init
  cumdach init --preset s3
  cumdach init --preset https://team.example.com/cumdach/config.toml
  cumdach init --encrypt-keyfile`

const initShortDesc string = "Initialize a .cumdach/ directory, config, and keyfile"

type initCommander struct {
	preset         string
	encryptKeyfile bool
	configDir      string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.preset, "preset", "p", "",
		fmt.Sprintf("Write config.toml from a preset (%s) or a URL serving one", strings.Join(config.ValidPresetNames(), ", ")))
	cmd.Flags().BoolVar(&cmder.encryptKeyfile, "encrypt-keyfile", false,
		"Seal the generated keyfile under a passphrase")

	return cmd
}

func (c *initCommander) run() error {
	dir, err := c.targetDir()
	if err != nil {
		return err
	}

	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		fmt.Printf("Already initialized: %s\n", dir)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .cumdach directory: %w", err)
		}
		fmt.Printf("Initialized .cumdach directory: %s\n", dir)
	}

	if err := c.writeConfig(dir); err != nil {
		return err
	}

	return c.ensureKeyfile(dir)
}

// targetDir mirrors dotdir resolution for the create case: an explicit
// --config-dir wins, otherwise init always works on ./.cumdach so a fresh
// project gets a local directory even when ~/.cumdach exists.
func (c *initCommander) targetDir() (string, error) {
	if c.configDir != "" {
		return filepath.Abs(c.configDir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}

	return filepath.Join(cwd, dirName), nil
}

func (c *initCommander) writeConfig(dir string) error {
	path := filepath.Join(dir, "config.toml")
	_, statErr := os.Stat(path)
	exists := statErr == nil

	// An existing config is kept unless a preset explicitly asks to
	// rewrite it.
	if exists && c.preset == "" {
		fmt.Println("Keeping existing config.toml")
		return nil
	}

	cfg := config.NewDefaultConfig()
	if c.preset != "" {
		var err error
		cfg, err = presetConfig(c.preset)
		if err != nil {
			return err
		}
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("  %s Wrote config.toml %s\n", cliui.SuccessMark,
		cliui.DimStyle.Render(fmt.Sprintf("(backend: %s)", cfg.Storage.Backend)))
	return nil
}

func (c *initCommander) ensureKeyfile(dir string) error {
	path := filepath.Join(dir, keyfileName)

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Keeping existing keyfile: %s\n", keyfileName)
		if signer, err := identity.LoadKeyfile(path, os.Getenv(appenv.PassphraseEnv)); err == nil {
			printOwner(signer.Address())
		}
		return nil
	}

	passphrase := ""
	if c.encryptKeyfile {
		var err error
		passphrase, err = readNewPassphrase()
		if err != nil {
			return err
		}
	}

	signer, err := identity.GenerateKeyfile(path, passphrase)
	if err != nil {
		return fmt.Errorf("generating keyfile: %w", err)
	}

	fmt.Printf("  %s Generated signing keyfile %s\n", cliui.SuccessMark, keyfileName)
	printOwner(signer.Address())
	return nil
}

// presetConfig resolves --preset: a known preset name, or a URL serving a
// config.toml to adopt (how a team distributes shared settings).
func presetConfig(preset string) (*config.Config, error) {
	if strings.HasPrefix(preset, "http://") || strings.HasPrefix(preset, "https://") {
		return fetchRemoteConfig(preset)
	}

	return config.PresetConfig(preset)
}

func fetchRemoteConfig(url string) (*config.Config, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching preset config: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching preset config: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading preset config: %w", err)
	}

	return config.ParseConfigTOML(data)
}

func printOwner(address string) {
	fmt.Printf("\n  %s %s\n", cliui.KeyStyle.Render("Owner:"), cliui.NameStyle.Render(address))
}

func readNewPassphrase() (string, error) {
	passphrase, err := appenv.ReadPassphrase("New keyfile passphrase: ")
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", errors.New("passphrase must not be empty")
	}

	confirm, err := appenv.ReadPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if confirm != passphrase {
		return "", errors.New("passphrases do not match")
	}

	return passphrase, nil
}
