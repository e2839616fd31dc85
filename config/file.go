package config

// file.go - configuration loading from a YAML file (--config).
//
//	listen: ":7000"
//	handshake_timeout: 30s
//	peers:
//	  alice: 10.0.0.7:5000
//	initiate: [alice]
//	acl:
//	  - mask: "ops-*"
//	    capabilities: [broadcast]

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML decoding.  Pointer fields tell an
// absent key from a zero value.
type fileConfig struct {
	Listen               *string           `yaml:"listen"`
	Peers                map[string]string `yaml:"peers"`
	Initiate             []string          `yaml:"initiate"`
	HandshakeTimeout     *time.Duration    `yaml:"handshake_timeout"`
	WriteTimeout         *time.Duration    `yaml:"write_timeout"`
	ExitToken            *string           `yaml:"exit_token"`
	Farewell             *string           `yaml:"farewell"`
	JoinFormat           *string           `yaml:"join_format"`
	LeaveFormat          *string           `yaml:"leave_format"`
	MaxLineLength        *int              `yaml:"max_line_length"`
	BroadcastConcurrency *int              `yaml:"broadcast_concurrency"`
	BroadcastCapability  *string           `yaml:"broadcast_capability"`
	ACL                  []ACLRule         `yaml:"acl"`
	Metrics              *string           `yaml:"metrics"`
	Verbose              *int              `yaml:"verbose"`

	SSH *struct {
		Tunnel        *string `yaml:"tunnel"`
		Key           *string `yaml:"key"`
		Password      *bool   `yaml:"password"`
		Agent         *bool   `yaml:"agent"`
		StrictHostKey *bool   `yaml:"strict_hostkey"`
		KnownHosts    *string `yaml:"known_hosts"`
	} `yaml:"ssh"`
}

// LoadFile overlays the YAML file at path onto cfg.  Unknown keys are
// an error so typos do not pass silently.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	return LoadYAML(cfg, data)
}

// LoadYAML overlays YAML-encoded settings onto cfg.
func LoadYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("config file: %w", err)
	}
	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	set(&cfg.Listen, fc.Listen)
	if len(fc.Peers) > 0 {
		if cfg.Peers == nil {
			cfg.Peers = make(map[string]string, len(fc.Peers))
		}
		for id, addr := range fc.Peers {
			cfg.Peers[id] = addr
		}
	}
	if len(fc.Initiate) > 0 {
		cfg.Initiate = append([]string(nil), fc.Initiate...)
	}
	set(&cfg.HandshakeTimeout, fc.HandshakeTimeout)
	set(&cfg.WriteTimeout, fc.WriteTimeout)
	set(&cfg.ExitToken, fc.ExitToken)
	set(&cfg.Farewell, fc.Farewell)
	set(&cfg.JoinFormat, fc.JoinFormat)
	set(&cfg.LeaveFormat, fc.LeaveFormat)
	set(&cfg.MaxLineLength, fc.MaxLineLength)
	set(&cfg.BroadcastConcurrency, fc.BroadcastConcurrency)
	set(&cfg.BroadcastCapability, fc.BroadcastCapability)
	if len(fc.ACL) > 0 {
		cfg.ACL = append(cfg.ACL, fc.ACL...)
	}
	set(&cfg.MetricsAddr, fc.Metrics)
	set(&cfg.Verbose, fc.Verbose)

	if s := fc.SSH; s != nil {
		set(&cfg.TunnelSpec, s.Tunnel)
		set(&cfg.SSHKeyPath, s.Key)
		set(&cfg.SSHPassword, s.Password)
		set(&cfg.UseSSHAgent, s.Agent)
		set(&cfg.StrictHostKey, s.StrictHostKey)
		set(&cfg.KnownHostsPath, s.KnownHosts)
	}
}

// set copies *v into *dst when the key was present.
func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
