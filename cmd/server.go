package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/utils"
)

// defaultServerPort is where port auto-discovery starts.
const defaultServerPort = 1750

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the tubeq background server (daemon)",
	Long:  `Start, stop, or check the status of the tubeq background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start [url]...",
	Short: "Start the tubeq server in headless mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		isMaster, err := AcquireLock()
		if err != nil {
			return fmt.Errorf("acquiring lock: %w", err)
		}
		if !isMaster {
			return errors.New("tubeq server is already running")
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		portFlag, _ := cmd.Flags().GetInt("port")
		batchFile, _ := cmd.Flags().GetString("batch")
		exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")
		noAuth, _ := cmd.Flags().GetBool("no-auth")

		urls, err := collectURLs(args, batchFile, false)
		if err != nil {
			return err
		}
		settings := loadSettings()
		intents, err := buildIntents(cmd, settings, urls, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		token := ""
		if !noAuth {
			token = resolveLocalToken()
		}

		savePID()
		defer removePID()

		return startServerLogic(cmd, settings, portFlag, token, intents, exitWhenDone)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tubeq server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("No running tubeq server found (PID file missing).")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("Error finding process: %v\n", err)
			return
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("Error stopping server: %v\n", err)
			return
		}

		fmt.Printf("Sent stop signal to process %d\n", pid)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the tubeq server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("tubeq server is NOT running.")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("tubeq server is NOT running (Process %d not found).\n", pid)
			return
		}

		// Signal 0 only checks that the process exists
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Printf("tubeq server is NOT running (Process %d dead).\n", pid)
			return
		}

		fmt.Printf("tubeq server is running (PID: %d, Port: %d).\n", pid, readActivePort())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().StringP("batch", "b", "", "File containing URLs to download")
	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	serverStartCmd.Flags().Bool("exit-when-done", false, "Exit when all downloads complete")
	serverStartCmd.Flags().Bool("no-auth", false, "Serve the API without a bearer token")
	addIntentFlags(serverStartCmd)
}

func pidFile() string {
	return filepath.Join(config.GetRuntimeDir(), "pid")
}

func savePID() {
	if err := os.WriteFile(pidFile(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	if err := os.Remove(pidFile()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(pidFile())
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// startServerLogic runs the daemon until a signal arrives or, with
// exitWhenDone, until the queue drains.
func startServerLogic(cmd *cobra.Command, settings *config.Settings, portFlag int, token string, intents []types.Intent, exitWhenDone bool) error {
	port, listener, err := listen(portFlag)
	if err != nil {
		return err
	}

	service, err := newLocalService(settings)
	if err != nil {
		_ = listener.Close()
		return err
	}
	defer func() {
		if err := service.Shutdown(); err != nil {
			utils.Debug("Shutdown: %v", err)
		}
	}()

	saveActivePort(port)
	defer removeActivePort()

	server := startHTTPServer(listener, newHTTPHandler(service, settings, port, token))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tubeq %s running in server mode.\n", Version)
	fmt.Fprintf(out, "HTTP server listening on port %d\n", port)
	fmt.Fprintln(out, "Press Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go startHeadlessConsumer(ctx, service, newPrinter(out))

	for _, in := range intents {
		if _, err := service.Add(in); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error adding %s: %v\n", in.URL, err)
		}
	}

	idle := make(chan struct{})
	if exitWhenDone {
		go watchIdle(ctx, service, 2*time.Second, idle)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "\nShutting down...")
	case <-idle:
		fmt.Fprintln(out, "All downloads finished. Exiting...")
	}
	return nil
}

// startHeadlessConsumer prints engine events until ctx is done.
func startHeadlessConsumer(ctx context.Context, service core.DownloadService, p *printer) {
	stream, cleanup, err := service.StreamEvents(ctx)
	if err != nil {
		utils.Debug("Event stream: %v", err)
		return
	}
	defer cleanup()
	for msg := range stream {
		p.print(msg)
	}
}

// listen binds the requested port, or the first free one from the default.
func listen(portFlag int) (int, net.Listener, error) {
	if portFlag > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", portFlag))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", portFlag, err)
		}
		return portFlag, ln, nil
	}
	port, ln := findAvailablePort(defaultServerPort)
	if ln == nil {
		return 0, nil, errors.New("could not find available port")
	}
	return port, ln, nil
}

// watchIdle closes done once the engine has had no outstanding work for two
// consecutive checks.
func watchIdle(ctx context.Context, service *core.LocalDownloadService, interval time.Duration, done chan<- struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if service.Engine().Outstanding() > 0 {
				idle = 0
				continue
			}
			idle++
			if idle >= 2 {
				close(done)
				return
			}
		}
	}
}
