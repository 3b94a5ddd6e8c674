// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package topology resolves fleet services to their member gateways and
// load-balancing-group ownership from a YAML gateway config, reloading it
// when the file changes so long-running watch sessions track fleet changes.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/antimetal/nvmeof-top/pkg/collector"
)

// Config is the on-disk gateway fleet description.
type Config struct {
	Services map[string]Service `yaml:"services"`
}

// Service describes one deployable fleet of gateways and the pool/group
// identity backing it.
type Service struct {
	Pool     string         `yaml:"pool"`
	Group    string         `yaml:"group"`
	Gateways []GatewayEntry `yaml:"gateways"`
}

// GatewayEntry is one member gateway. LoadBalancingGroup records which LBG
// the daemon currently owns; 0 means it owns none.
type GatewayEntry struct {
	Daemon             string `yaml:"daemon"`
	Addr               string `yaml:"addr"`
	LoadBalancingGroup int    `yaml:"load_balancing_group"`
}

// Endpoint is a fully resolved gateway identity.
type Endpoint struct {
	Service string
	Daemon  string
	Addr    string
}

// Store serves topology lookups from the most recently loaded config. It
// implements collector.Topology.
type Store struct {
	mu      sync.RWMutex
	path    string
	cfg     Config
	logger  logr.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ collector.Topology = (*Store)(nil)

// Load reads the gateway config at path. The returned Store serves lookups
// from that snapshot until Watch is started or Reload is called.
func Load(path string, logger logr.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.WithName("topology"),
		done:   make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file, replacing the served snapshot on
// success and keeping the previous one on failure.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read gateway config %s: %w", s.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal gateway config %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.V(1).Info("gateway config loaded", "path", s.path, "services", len(cfg.Services))
	return nil
}

// Watch starts reloading the config whenever the file is rewritten. The
// containing directory is watched so editors that replace the file are
// still seen.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			s.logger.Error(closeErr, "failed to close fs watcher")
		}
		return fmt.Errorf("failed to watch gateway config directory: %w", err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.processEvents()
	return nil
}

func (s *Store) processEvents() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(s.path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	s.logger.V(1).Info("gateway config changed", "op", event.Op)
	if err := s.Reload(); err != nil {
		s.logger.Error(err, "failed to reload gateway config, keeping previous")
	}
}

// Close stops the watcher, if one was started.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Gateways lists the member gateways of a named service.
func (s *Store) Gateways(service string) ([]collector.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.cfg.Services[service]
	if !ok {
		return nil, fmt.Errorf("service %s not found in gateway config", service)
	}

	endpoints := make([]collector.Endpoint, 0, len(svc.Gateways))
	for _, gw := range svc.Gateways {
		endpoints = append(endpoints, collector.Endpoint{Daemon: gw.Daemon, Addr: gw.Addr})
	}
	return endpoints, nil
}

// LBGMap maps load-balancing-group id to owning daemon name for a service.
// Group 0 means a daemon owns no LBG and is excluded.
func (s *Store) LBGMap(service string) (map[int]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.cfg.Services[service]
	if !ok {
		return nil, fmt.Errorf("service %s not found in gateway config", service)
	}

	lbgMap := make(map[int]string)
	for _, gw := range svc.Gateways {
		if gw.LoadBalancingGroup == 0 {
			continue
		}
		lbgMap[gw.LoadBalancingGroup] = gw.Daemon
	}
	return lbgMap, nil
}

// PoolGroup returns the pool/group identity backing a service.
func (s *Store) PoolGroup(service string) (pool, group string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.cfg.Services[service]
	if !ok {
		return "", "", fmt.Errorf("service %s not found in gateway config", service)
	}
	return svc.Pool, svc.Group, nil
}

// Resolve maps a (group, address) pair onto a configured gateway. An empty
// address picks the first gateway of the first service matching the group,
// in sorted service order, so repeated calls bind the same default.
func (s *Store) Resolve(group, addr string) (Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.cfg.Services))
	for name := range s.cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := s.cfg.Services[name]
		if group != "" && svc.Group != group {
			continue
		}
		for _, gw := range svc.Gateways {
			if addr == "" || gw.Addr == addr {
				return Endpoint{Service: name, Daemon: gw.Daemon, Addr: gw.Addr}, nil
			}
		}
	}

	if addr == "" {
		return Endpoint{}, fmt.Errorf("no gateways configured for group %q", group)
	}
	// An explicit address outside the config is still usable; the caller
	// just loses the daemon-name mapping.
	return Endpoint{Daemon: "", Addr: addr}, nil
}
