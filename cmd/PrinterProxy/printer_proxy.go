// Package main is the entry point of the Printer Proxy, a service that
// receives print jobs over WebSocket and HTTP and forwards them as ESC/POS
// byte streams to networked receipt printers.
package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/judwhite/go-svc"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/adcondev/printer-proxy/internal/config"
	"github.com/adcondev/printer-proxy/internal/daemon"
)

func main() {
	root := &cobra.Command{
		Use:   "printer-proxy",
		Short: "ESC/POS print service for networked receipt printers",
		RunE:  runService,
	}
	root.Flags().Bool("console", false, "Run in console mode (not as service)")

	root.AddCommand(checkConfigCmd(), hashTokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	consoleMode, _ := cmd.Flags().GetBool("console")

	prg := &daemon.Program{}

	if consoleMode || isInteractive() {
		runConsole(prg)
		return nil
	}

	// Run as system service
	return svc.Run(prg, syscall.SIGINT, syscall.SIGTERM)
}

// runConsole runs the program in console mode
func runConsole(prg *daemon.Program) {
	if err := prg.Init(nil); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	if err := prg.Start(); err != nil {
		log.Fatalf("Start failed: %v", err)
	}

	log.Println("═══════════════════════════════════════════════════════")
	log.Println("  🖨️ PRINTER PROXY - Console Mode")
	log.Println("  Press Ctrl+C to stop...")
	log.Println("═══════════════════════════════════════════════════════")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("\n🛑 Shutting down...")
	if err := prg.Stop(); err != nil {
		log.Printf("Stop failed: %v", err)
	}
}

// checkConfigCmd validates the printers registry file without starting the
// service.
func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the printers registry file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.PrintersPath()
			printers, err := config.LoadPrinters(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			fmt.Printf("%s: OK (%d printers)\n", path, len(printers.Printers))
			for _, p := range printers.Printers {
				fmt.Printf("  %-20s %-30s %s\n", p.ID, p.Name, p.Backend.Addr())
			}
			return nil
		},
	}
}

// hashTokenCmd generates the bcrypt hash expected by the admin API, in the
// base64 form used by the ADMIN_TOKEN_HASH env var and ldflags injection.
func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Hash an admin token for ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing token: %w", err)
			}

			fmt.Println(base64.StdEncoding.EncodeToString(hash))
			return nil
		},
	}
}

// isInteractive checks if running from a terminal (not as service)
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
