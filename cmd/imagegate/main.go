package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// session is the connection settings every command runs with, resolved
// from flags, then IMAGEGATE_* env vars, then the active profile.
type session struct {
	baseURL     string
	token       string
	profileName string
	profile     profile
	store       profileStore
	ui          *ui
}

const defaultBaseURL = "http://localhost:8080"

func main() {
	s := &session{store: defaultStore(), ui: newUI()}

	root := &cobra.Command{
		Use:           "imagegate",
		Short:         "imagegate CLI",
		Long:          "imagegate CLI for generating images and fetching stored assets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetHelpTemplate(helpTemplate(s.ui, s.store.path))

	flags := root.PersistentFlags()
	flags.StringVar(&s.baseURL, "base-url", "", "Base URL for imagegate (env IMAGEGATE_BASE_URL)")
	flags.StringVar(&s.token, "token", "", "Bearer token (env IMAGEGATE_TOKEN)")
	flags.StringVar(&s.profileName, "profile", "", "Config profile (env IMAGEGATE_PROFILE)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return s.resolve()
	}

	root.AddCommand(
		configCmd(s),
		generateCmd(s),
		statusCmd(s),
		fetchCmd(s),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, s.ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func (s *session) resolve() error {
	cfg, err := s.store.load()
	if err != nil {
		return fmt.Errorf("read %s: %w", s.store.path, err)
	}
	s.profileName = cfg.active(s.profileName)
	s.profile = cfg.Profiles[s.profileName]
	s.baseURL = firstNonBlank(s.baseURL, os.Getenv("IMAGEGATE_BASE_URL"), s.profile.BaseURL, defaultBaseURL)
	s.token = firstNonBlank(s.token, os.Getenv("IMAGEGATE_TOKEN"), s.profile.Token)
	return nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func helpTemplate(ui *ui, cfgPath string) string {
	return fmt.Sprintf(`%s - CLI for imagegate

Usage:
  {{.UseLine}}
{{if .HasAvailableSubCommands}}
Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}
{{end}}
Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{if .HasAvailableInheritedFlags}}
Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}
Config:
  %s

Examples:
  imagegate config init
  imagegate generate "a red fox in the snow" --model fluid --output fox.png
  imagegate generate "a lighthouse at dusk" --async
  imagegate status <taskId> --watch
  imagegate fetch <guid> --output image.webp

`, ui.title("imagegate"), cfgPath)
}
