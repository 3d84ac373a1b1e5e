// Package cli assembles and runs the wearable client.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Angelishere/Major-Project-Perceiva/internal/config"
	"github.com/Angelishere/Major-Project-Perceiva/internal/media"
	"github.com/Angelishere/Major-Project-Perceiva/internal/touch"
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "perceiva",
		Short:         "Assistive wearable client",
		Long:          "Touch-gated voice interactions, product identification, and live volunteer video calls for the Perceiva wearable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), callCmd(), doctorCmd())
	return root.Execute()
}

// signalContext cancels on SIGINT/SIGTERM so every session tears down
// through the normal path.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the interaction loop and control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.run(ctx)
		},
	}
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call",
		Short: "Start one volunteer call immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.calls.Run(ctx)
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the device environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			out := cmd.OutOrStdout()

			for _, tool := range []string{"arecord", "paplay", "pacat", "libcamera-vid", "libcamera-still"} {
				if _, err := exec.LookPath(tool); err != nil {
					fmt.Fprintf(out, "%-16s missing\n", tool)
				} else {
					fmt.Fprintf(out, "%-16s ok\n", tool)
				}
			}

			if _, err := touch.NewGPIOSensor(cfg.TouchPin); err != nil {
				fmt.Fprintf(out, "%-16s unavailable: %v\n", "touch "+cfg.TouchPin, err)
			} else {
				fmt.Fprintf(out, "%-16s ok\n", "touch "+cfg.TouchPin)
			}
			if media.Detect() {
				fmt.Fprintf(out, "%-16s ok\n", "camera")
			} else {
				fmt.Fprintf(out, "%-16s missing\n", "camera")
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(cfg.ServerURL)
			if err != nil {
				fmt.Fprintf(out, "%-16s unreachable: %v\n", "server", err)
			} else {
				resp.Body.Close()
				fmt.Fprintf(out, "%-16s ok (%s)\n", "server", cfg.ServerURL)
			}
			return nil
		},
	}
}
