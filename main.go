// Program metricsdash polls a metrics endpoint on a fixed interval and
// renders the returned name/value records on the console, with a live
// case-insensitive name filter.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"metricsdash/board"
	"metricsdash/config"
	"metricsdash/poller"
	"metricsdash/ui"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "METRICSDASH_CONFIG_PATH"
)

// Version will be set at build time
var Version = "dev"

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main surface selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func configCandidates() []string {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	return append(candidates, defaultConfigPath)
}

// Purpose: Load configuration from the first candidate path that exists.
// Key aspects: Missing paths are skipped; when none exist the built-in
// defaults are used. Any other load error is fatal to the caller.
// Upstream: main startup.
// Downstream: config.Load and os.IsNotExist.
func loadDashConfig(candidates ...string) (*config.Config, error) {
	for _, path := range candidates {
		if path == "" {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return cfg, nil
	}
	return config.Default(), nil
}

// Purpose: Pick the console surface for the configured UI mode.
// Key aspects: Interactive modes fall back to headless without a TTY.
// Upstream: main startup.
// Downstream: ui.NewDashboard, newANSIConsole, newHeadlessSurface.
func selectSurface(cfg *config.Config, endpoint string, tty bool, journalf func(string, ...any), filters ui.FilterSetter, refresher ui.Refresher, metrics *ui.Metrics) ui.Surface {
	mode := cfg.UI.Mode
	switch mode {
	case config.UIModeTview, config.UIModeANSI:
		if !tty {
			log.Printf("UI: %s requires an interactive console; using headless output", mode)
			return newHeadlessSurface(nil, journalf)
		}
		if mode == config.UIModeANSI {
			return newANSIConsole(cfg.UI, endpoint, os.Stdout)
		}
		return ui.NewDashboard(cfg.UI, endpoint, filters, refresher, metrics)
	default:
		return newHeadlessSurface(nil, journalf)
	}
}

// Purpose: Program entrypoint; wires config, logging, board, poller and UI.
// Key aspects: Runs until a signal arrives or the user quits the dashboard.
// Upstream: OS process start.
// Downstream: poller.Poller and the selected ui.Surface.
func main() {
	cfg, err := loadDashConfig(configCandidates()...)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logs, err := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(logs)
	defer logs.Close()
	if err != nil {
		log.Printf("Logging: file logging disabled: %v", err)
	}

	brd := board.New()
	brd.SetFilter(cfg.UI.Filter)
	fetcher := poller.NewFetcher(cfg.Source.URL, cfg.Source.UserAgent, cfg.Source.MaxBodyBytes, nil)
	poll := poller.New(fetcher, brd, cfg.Source.PollInterval(), cfg.Source.RequestTimeout())
	uiMetrics := ui.NewMetrics()
	poll.SetObserver(uiMetrics.ObservePoll)
	poll.SetJournal(logs.Journalf)

	surface := selectSurface(cfg, fetcher.URL(), isStdoutTTY(), logs.Journalf, brd, poll, uiMetrics)
	surface.WaitReady()
	if w := surface.SystemWriter(); w != nil {
		logs.SetConsole(w, true)
	} else {
		cfg.Print()
	}
	brd.OnChange(surface.Render)
	surface.Render(brd.View())

	log.Printf("metricsdash v%s polling %s every %s", Version, fetcher.URL(), cfg.Source.PollInterval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poll.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case <-surface.Done():
		log.Printf("UI closed")
	}

	poll.Stop()
	surface.Stop()
	logs.SetConsole(os.Stdout, true)
	log.Printf("Stopped after %s polls (%s failed, %s stale views dropped)",
		humanize.Comma(int64(poll.Cycles())),
		humanize.Comma(int64(uiMetrics.PollErrors())),
		humanize.Comma(int64(uiMetrics.StaleViews())))
}
