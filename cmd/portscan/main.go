// cmd/portscan/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
	"github.com/d1childress/neo/pkg/scan"
	"github.com/d1childress/neo/pkg/scanner"
)

func main() {
	host := flag.String("host", "", "Host to scan (name or IP)")
	ports := flag.String("ports", "1-1024", "Port spec: \"22\", \"1-1024\", \"22,80,8000-8100\"")
	concurrency := flag.Int("concurrency", models.DefaultConcurrency, "Max concurrent probes")
	timeout := flag.Duration("timeout", models.DefaultProbeTimeout, "Per-probe timeout")
	rps := flag.Float64("rate", 0, "Probes per second (0 disables pacing)")
	verbose := flag.Bool("verbose", false, "Report closed/filtered ports too")
	precheck := flag.Bool("precheck", false, "Skip sweep if host does not answer ICMP echo (needs privileges)")
	jsonOut := flag.Bool("json", false, "Print the final report as JSON")
	quiet := flag.Bool("quiet", false, "Suppress progress output")
	flag.Parse()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "portscan: -host is required")
		flag.Usage()
		os.Exit(2)
	}

	portSet, err := scan.ParsePortSpec(*ports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portscan: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: "warn", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "portscan: %v\n", err)
		os.Exit(1)
	}

	target := models.ScanTarget{
		Host:    *host,
		Ports:   portSet,
		Verbose: *verbose,
	}

	opts := models.ScanOptions{
		Concurrency:   *concurrency,
		Timeout:       *timeout,
		RatePerSecond: *rps,
		Precheck:      *precheck,
	}

	report, err := runScan(target, opts, log, *quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portscan: %v\n", err)
		os.Exit(1)
	}

	printReport(report, *jsonOut)

	if report.Cancelled {
		os.Exit(130)
	}
}

func runScan(target models.ScanTarget, opts models.ScanOptions, log logger.Logger, quiet bool) (*models.ScanReport, error) {
	sc := scanner.New(target, opts, log)

	if opts.Precheck {
		sc.SetPinger(scan.NewICMPPinger(opts.Timeout, log))
	}

	// Ctrl-C cancels cooperatively; in-flight probes drain within one
	// timeout interval and the partial report still prints.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		sc.Cancel()
	}()

	progress, err := sc.Start(context.Background())
	if err != nil {
		return nil, err
	}

	start := time.Now()

	for p := range progress {
		if p.Report != nil {
			return p.Report, nil
		}

		if !quiet && p.Latest != nil && p.Latest.State == models.PortOpen {
			fmt.Printf("open  %5d  (%s)\n", p.Latest.Port, p.Latest.RespTime.Round(time.Millisecond))
		}
	}

	// Progress closed without a final event; fall back to the stored report.
	if report, ok := sc.Report(); ok {
		return report, nil
	}

	return nil, fmt.Errorf("scan produced no report after %s", time.Since(start).Round(time.Millisecond))
}

func printReport(report *models.ScanReport, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)

		return
	}

	fmt.Printf("\nScan of %s: %d/%d ports probed in %s",
		report.Host, report.PortsScanned, report.PortsPlanned, report.Elapsed.Round(time.Millisecond))

	if report.Cancelled {
		fmt.Print(" (cancelled)")
	}

	fmt.Println()

	if len(report.OpenPorts) == 0 {
		fmt.Println("No open ports found.")
	} else {
		fmt.Printf("Open ports: %v\n", report.OpenPorts)
	}

	if len(report.ClosedPorts) > 0 {
		fmt.Printf("Closed/filtered ports: %v\n", report.ClosedPorts)
	}
}
