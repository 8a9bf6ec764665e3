package config

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	webrtc "github.com/pion/webrtc/v4"
)

func TestDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()

	if c.CallTimeout != DefaultCallTimeout || c.GraceTimeout != DefaultGraceTimeout {
		t.Fatal("call timings should default to the documented values")
	}

	if c.MaxReconnectAttempts != 5 {
		t.Fatalf("MaxReconnectAttempts should be 5, not %d", c.MaxReconnectAttempts)
	}

	servers := c.ICEServers()
	if len(servers) != 1 || len(servers[0].URLs) != len(DefaultICEAddresses) {
		t.Fatalf("unexpected ICE servers %#v", servers)
	}
	if servers[0].Username != "" {
		t.Fatal("default ICE servers should not authenticate")
	}
}

func TestICEServersWithCredentials(t *testing.T) {
	c := NewDefaultConfig()
	c.ICEAddresses = []string{"turn:turn.example.com:3478"}
	c.ICEUsername = "walkie"
	c.ICEPassword = "secret"

	servers := c.ICEServers()
	if servers[0].CredentialType != webrtc.ICECredentialTypePassword || servers[0].Credential != "secret" {
		t.Fatalf("unexpected ICE server %#v", servers[0])
	}

	c.ICEAddresses = nil
	if c.ICEServers() != nil {
		t.Fatal("no addresses should mean no ICE servers")
	}
}

func TestSetDataDir(t *testing.T) {
	c := NewDefaultConfig()
	c.SetDataDir("/tmp/walkie")

	if c.DatabaseDir != filepath.Join("/tmp/walkie", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, got %s", c.DatabaseDir)
	}

	c.DatabaseDir = "/var/db"
	c.SetDataDir("/tmp/other")
	if c.DatabaseDir != "/var/db" {
		t.Fatal("an explicit DatabaseDir should not be overridden")
	}
}

func TestLogLevel(t *testing.T) {
	if LogLevel("warn") != logrus.WarnLevel {
		t.Fatal("warn should parse to WarnLevel")
	}
	if LogLevel("bogus") != logrus.DebugLevel {
		t.Fatal("unknown levels should default to DebugLevel")
	}
}
