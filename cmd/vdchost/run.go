// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/plan44dev/vdc-host/base"
	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/pubsub"
	"github.com/plan44dev/vdc-host/vdchost"
)

// agentName identifies this process to the bus watchdog and the log
// entries it writes, mirroring the teacher's per-agent const agentName.
const agentName = "vdchost"

// run builds the full vdc-host process around cfg and blocks until an
// interrupt or terminate signal arrives, mirroring the teacher's
// cmd/ledmanager Run(ps, loggerArg, log, arguments) int entry shape,
// generalized here into a single func that also owns the websocket
// listener and config-file watch. configPath is the file run's caller
// loaded cfg from, watched for live changes.
func run(cfg Config, configPath string) int {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := base.NewSourceLogObject(logger, agentName, os.Getpid())

	mac, err := ResolveMAC(cfg)
	if err != nil {
		log.Errorf("resolve MAC: %v", err)
		return 1
	}

	identity := newFileIdentityStore(cfg.DatabasePath + ".identity")
	id, err := vdchost.DeriveOrLoadDSUID(identity, mac, 0, dsuid.Zero)
	if err != nil {
		log.Errorf("derive identity: %v", err)
		return 1
	}
	log.Noticef("starting as %s (%s)", cfg.InstanceName, id.String())

	bus := pubsub.NewBus(256)
	host := vdchost.New(id, log, bus)

	stopWatch, err := watchConfigFile(configPath, logger, log)
	if err != nil {
		log.Warnf("config watch disabled: %v", err)
	} else {
		defer stopWatch()
	}

	server := &http.Server{Addr: cfg.ListenAddr, Handler: newHTTPHandler(host)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Noticef("shutting down")
		_ = server.Close()
		close(stop)
	}()

	host.Run(stop)
	return 0
}

// watchConfigFile reloads the process log level whenever cfg's backing
// file changes, per SPEC_FULL.md §6 ("a config-directory watch"),
// grounded on the pack's fsnotify usage in a directory-level watcher
// (watch the parent directory, react to writes to the file of interest).
func watchConfigFile(configPath string, logger *logrus.Logger, log *base.LogObject) (stop func(), err error) {
	if configPath == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == configPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Noticef("config changed: %s", event.Name)
					if cfg, err := LoadConfig(configPath); err != nil {
						log.Warnf("config reload: %v", err)
					} else if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
						logger.SetLevel(lvl)
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watch error: %v", werr)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
