// Command nsbrokerd is the rendezvous broker daemon (spec.md §1).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/nsbroker/nsbroker/broker"
	"github.com/nsbroker/nsbroker/core/config"
	corelog "github.com/nsbroker/nsbroker/core/log"
	"github.com/nsbroker/nsbroker/core/worker"
)

func main() {
	// A process re-exec'd to perform one request's peer<->host relay never
	// reaches the rest of main: it runs the worker-mode entry point and
	// exits with the status spec.md §4.5 documents.
	if broker.IsWorkerMode() {
		broker.RunWorkerMode()
		return
	}

	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to TOML configuration file")
	// -worker is accepted but unused directly: re-exec always sets
	// NSBROKER_WORKER_MODE, this flag just keeps `ps` output self-explanatory.
	flag.Bool("worker", false, "internal: run as a request worker (set by the broker itself)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsbrokerd: config: %v\n", err)
		return 1
	}

	logBackend, err := corelog.New(cfg.Log.File, cfg.Log.Level, cfg.Log.Disabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsbrokerd: logging: %v\n", err)
		return 1
	}
	defer logBackend.Close()

	log := logBackend.GetLogger("broker")
	log.Noticef("nsbrokerd starting, version=%s", versioninfo.Short())

	// SIGPIPE on a half-closed socket must never take down the broker
	// (spec.md §6: "SIGPIPE ignored").
	signal.Ignore(syscall.SIGPIPE)

	b, err := broker.New(&cfg.Broker, log)
	if err != nil {
		log.Criticalf("nsbrokerd: init: %v", err)
		return 1
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	w := &worker.Worker{}
	w.Go(func() { b.Run(w) })

	<-term
	log.Notice("nsbrokerd draining")
	// Stop the tick loop first: Broker is single-owner and not safe for
	// concurrent use, so BeginDrain/Shutdown must not race a live Tick.
	w.Halt()
	b.BeginDrain()
	b.Shutdown(time.Duration(cfg.Broker.DrainGraceMS) * time.Millisecond)

	log.Notice("nsbrokerd exiting")
	return 0
}
