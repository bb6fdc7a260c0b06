// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/go-playground/validator/v10"
)

// Config is the on-disk configuration vdc-host loads at startup; when the
// config file changes, run reloads it and applies its LogLevel, per
// SPEC_FULL.md §6's "configuration" addition to spec.md's ambient stack.
type Config struct {
	// InstanceName identifies this vdc-host process among several
	// running on the same host, feeding dsuid.FromMACAndInstance.
	InstanceName string `json:"instanceName" validate:"required"`
	// ListenAddr is the north-bound websocket listen address.
	ListenAddr string `json:"listenAddr" validate:"required,hostname_port"`
	// MAC overrides the interface MAC used to derive this host's dSUID;
	// empty means "look it up from the network interface named
	// Interface".
	MAC string `json:"mac"`
	// Interface is the network interface whose MAC derives the host's
	// dSUID when MAC is not set.
	Interface string `json:"interface" validate:"required_without=MAC"`
	// DatabasePath is where the persistence store keeps its SQLite file.
	DatabasePath string `json:"databasePath" validate:"required"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns the built-in defaults check-config and run fall
// back to when a config file does not override them.
func DefaultConfig() Config {
	return Config{
		InstanceName: "vdchost",
		ListenAddr:   "0.0.0.0:8440",
		Interface:    "eth0",
		DatabasePath: "/var/lib/vdchost/vdchost.db",
		LogLevel:     "info",
	}
}

// LoadConfig reads and validates a JSON config file at path, starting
// from DefaultConfig() so a partial file only overrides what it sets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ResolveMAC returns the MAC address Config names, either the literal
// override or the named interface's hardware address.
func ResolveMAC(cfg Config) (net.HardwareAddr, error) {
	if cfg.MAC != "" {
		return net.ParseMAC(cfg.MAC)
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %s: %w", cfg.Interface, err)
	}
	return iface.HardwareAddr, nil
}
