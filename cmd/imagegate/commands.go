package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func configCmd(s *session) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI profiles",
	}

	var (
		given    profile
		noPrompt bool
	)
	initC := &cobra.Command{
		Use:   "init",
		Short: "Create or update the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.store.load()
			if err != nil {
				return err
			}
			prof := cfg.Profiles[s.profileName]
			prof.BaseURL = firstNonBlank(given.BaseURL, prof.BaseURL, defaultBaseURL)

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				prof.BaseURL = prompt(reader, "Base URL", prof.BaseURL)
				if given.Token == "" {
					fmt.Print("Token (optional): ")
					given.Token, err = readSecret(func() (string, error) {
						line, err := reader.ReadString('\n')
						if errors.Is(err, io.EOF) {
							err = nil
						}
						return strings.TrimSpace(line), err
					})
					fmt.Println()
					if err != nil {
						return err
					}
				}
			}

			if t := strings.TrimSpace(given.Token); t != "" {
				prof.Token = t
			}
			prof.Model = firstNonBlank(given.Model, prof.Model)
			prof.Resolution = firstNonBlank(given.Resolution, prof.Resolution)
			prof.AspectRatio = firstNonBlank(given.AspectRatio, prof.AspectRatio)
			cfg.Profiles[s.profileName] = prof
			if cfg.CurrentProfile == "" || cmd.Flags().Changed("profile") {
				cfg.CurrentProfile = s.profileName
			}
			if err := s.store.save(cfg); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", s.ui.ok("[OK]"), s.profileName, s.store.path)
			return nil
		},
	}
	initC.Flags().StringVar(&given.BaseURL, "server", "", "Base URL stored in the profile")
	initC.Flags().StringVar(&given.Token, "api-token", "", "Bearer token stored in the profile")
	initC.Flags().StringVar(&given.Model, "model", "", "Default model for generate")
	initC.Flags().StringVar(&given.Resolution, "resolution", "", "Default resolution for generate")
	initC.Flags().StringVar(&given.AspectRatio, "aspect-ratio", "", "Default aspect ratio for generate")
	initC.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print profiles (tokens masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.store.load()
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", s.ui.title("Config:"), s.store.path)
			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := cfg.Profiles[name]
				marker := " "
				if name == s.profileName {
					marker = s.ui.ok("*")
				}
				fmt.Printf("%s %s  %s  token=%s", marker, name, p.BaseURL, s.ui.dim(maskToken(p.Token)))
				if p.Model != "" || p.Resolution != "" || p.AspectRatio != "" {
					fmt.Printf("  %s", s.ui.dim(strings.TrimSpace(p.Model+" "+p.Resolution+" "+p.AspectRatio)))
				}
				fmt.Println()
			}
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use <profile>",
		Short: "Switch the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.editProfiles(func(cfg *cliConfig) error {
				if _, ok := cfg.Profiles[args[0]]; !ok {
					return fmt.Errorf("profile %q does not exist", args[0])
				}
				cfg.CurrentProfile = args[0]
				fmt.Printf("%s Active profile: %s\n", s.ui.ok("[OK]"), args[0])
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <profile>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.editProfiles(func(cfg *cliConfig) error {
				if _, ok := cfg.Profiles[args[0]]; !ok {
					return fmt.Errorf("profile %q does not exist", args[0])
				}
				delete(cfg.Profiles, args[0])
				if cfg.CurrentProfile == args[0] {
					cfg.CurrentProfile = ""
				}
				fmt.Printf("%s Removed profile: %s\n", s.ui.ok("[OK]"), args[0])
				return nil
			})
		},
	}

	cfgCmd.AddCommand(initC, show, use, remove)
	return cfgCmd
}

// editProfiles loads the profile file, applies fn and saves the result.
func (s *session) editProfiles(fn func(*cliConfig) error) error {
	cfg, err := s.store.load()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return s.store.save(cfg)
}

func generateCmd(s *session) *cobra.Command {
	var (
		req     generateRequest
		output  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "generate <prompt>",
		Short:   "Generate an image",
		Example: `imagegate generate "a red fox in the snow" --resolution 4k --output fox.png`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.TrimSpace(strings.Join(args, " "))
			if req.Prompt == "" {
				return errors.New("prompt is required")
			}
			req.Model = firstNonBlank(req.Model, s.profile.Model)
			req.Resolution = firstNonBlank(req.Resolution, s.profile.Resolution)
			req.AspectRatio = firstNonBlank(req.AspectRatio, s.profile.AspectRatio)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := newClient(s.baseURL, s.token, timeout)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Generating image (this can take a minute)..."
			if req.Async {
				spin.Suffix = " Submitting task..."
			}
			spin.Start()
			res, task, err := c.generate(ctx, req)
			spin.Stop()
			if err != nil {
				return err
			}

			if task != nil {
				fmt.Printf("%s Task created: %s (%s)\n", s.ui.ok("[OK]"), task.TaskID, task.Status)
				fmt.Printf("%s imagegate status %s --watch\n", s.ui.dim("Follow with:"), task.TaskID)
				return nil
			}
			fmt.Printf("%s Image generated (task %s)\n", s.ui.ok("[OK]"), res.TaskID)
			fmt.Printf("  %s %s\n", s.ui.info("url: "), res.ImageURL)
			if res.GUID != "" {
				fmt.Printf("  %s %s\n", s.ui.info("guid:"), res.GUID)
			}
			if output == "" {
				return nil
			}
			target := res.ImageURL
			if res.GUID != "" {
				target = "/images/" + res.GUID
			}
			return saveTo(ctx, c, target, output, s.ui)
		},
	}
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Resolution (1k, 2k, 4k)")
	cmd.Flags().StringVar(&req.AspectRatio, "aspect-ratio", "", "Aspect ratio, e.g. widescreen_16_9")
	cmd.Flags().StringVar(&req.Model, "model", "", "Model, e.g. realism or fluid")
	cmd.Flags().StringVar(&req.Style, "style", "", "Style hint")
	cmd.Flags().BoolVar(&req.Async, "async", false, "Only create the task and return its id")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Save the generated image to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "HTTP timeout")
	return cmd
}

func statusCmd(s *session) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <taskId>",
		Short: "Show a generation task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			c := newClient(s.baseURL, s.token, 30*time.Second)

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching task..."
			spin.Start()
			defer spin.Stop()
			for {
				task, err := c.taskStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if !watch || isTerminal(task.Status) {
					spin.Stop()
					printTask(task, s.ui)
					return nil
				}
				spin.Suffix = fmt.Sprintf(" Task %s is %s...", task.TaskID, task.Status)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the task completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval with --watch")
	return cmd
}

func fetchCmd(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch <guid>",
		Short: "Download a stored image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			dest := firstNonBlank(output, args[0])
			c := newClient(s.baseURL, s.token, 5*time.Minute)
			return saveTo(ctx, c, "/images/"+url.PathEscape(args[0]), dest, s.ui)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: the guid)")
	return cmd
}

// saveTo downloads target into output with a progress bar, writing through a
// temp file so an interrupted download leaves nothing behind.
func saveTo(ctx context.Context, c *client, target, output string, ui *ui) error {
	dir := filepath.Dir(output)
	tmp, err := os.CreateTemp(dir, ".imagegate-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var bar *progressbar.ProgressBar
	ct, err := c.download(ctx, target, func(size int64) io.Writer {
		bar = progressbar.DefaultBytes(size, "downloading")
		return io.MultiWriter(tmp, bar)
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return err
	}
	fmt.Printf("%s Saved %s %s\n", ui.ok("[OK]"), output, ui.dim("("+firstNonBlank(ct, "unknown type")+")"))
	return nil
}

func printTask(task *generationTask, ui *ui) {
	status := task.Status
	switch status {
	case "COMPLETED":
		status = ui.ok(status)
	case "FAILED":
		status = ui.err(status)
	default:
		status = ui.warn(status)
	}
	fmt.Printf("%s %s\n", ui.title("Task:"), task.TaskID)
	fmt.Printf("  status: %s\n", status)
	for _, u := range task.Generated {
		fmt.Printf("  image:  %s\n", u)
	}
}

func isTerminal(status string) bool {
	return status == "COMPLETED" || status == "FAILED"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
