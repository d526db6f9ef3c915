package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
	"github.com/studyshare/notegate/internal/scan"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notegate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notegate",
		Short: "NoteGate development and operations CLI",
		Long: `NoteGate CLI orchestrates common workflows: building and running the Docker stack,
running tests, probing the malware-scan backends, and scanning local files through
the same cascade the upload pipeline uses.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(
		newUpCmd(),
		newDownCmd(),
		newTestCmd(),
		newRunCmd(),
		newScanCmd(),
		newCheckToolsCmd(),
	)
	return cmd
}

// newScanCmd runs a local file through the production scan cascade, which is
// the quickest way to verify a ClamAV install end to end (feed it an EICAR
// file and expect an infected verdict).
func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <file>",
		Short: "Scan a local file through the backend cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			res := scan.NewOrchestrator(cfg).Scan(cmd.Context(), args[0])
			fmt.Printf("backend:  %s\n", res.Backend)
			fmt.Printf("infected: %v\n", res.Infected)
			fmt.Printf("message:  %s\n", res.Message)
			if res.Infected {
				os.Exit(1)
			}
			return nil
		},
	}
}

// newCheckToolsCmd probes every scan backend and reports availability.
func newCheckToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checktools",
		Short: "Probe scan backend availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			probes := scan.NewOrchestrator(cfg).Probe(cmd.Context())
			names := make([]string, 0, len(probes))
			for name := range probes {
				names = append(names, string(name))
			}
			sort.Strings(names)
			for _, name := range names {
				status := "unavailable"
				if probes[model.ScanBackend(name)] {
					status = "available"
				}
				fmt.Printf("%-16s %s\n", name, status)
			}
			if _, err := exec.LookPath("exiftool"); err == nil {
				fmt.Printf("%-16s available\n", "exiftool")
			} else {
				fmt.Printf("%-16s unavailable (metadata stripping degrades)\n", "exiftool")
			}
			return nil
		},
	}
}

func newUpCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "up", "--build"}
			if detach {
				composeArgs = append(composeArgs, "-d")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "down"}
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	cmd.AddCommand(
		newServiceRunner("server", "./cmd/server"),
		newServiceRunner("worker", "./cmd/worker"),
	)
	return cmd
}

func newServiceRunner(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("go run %s", path),
		RunE: func(cmd *cobra.Command, args []string) error {
			goArgs := append([]string{"run", path}, args...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
