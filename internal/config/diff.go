package config

import (
	"reflect"
	"slices"
)

// Changes describes what changed between two configs. Session and log level
// changes can be applied to a running process; everything listed in Restart
// only takes effect after a restart.
type Changes struct {
	// Session is true when instructions, voice or turn detection changed.
	Session bool

	LogLevel    bool
	NewLogLevel LogLevel

	// Restart names the top-level sections whose changes need a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool { return !c.Session && !c.LogLevel && len(c.Restart) == 0 }

// Diff compares old and new.
func Diff(old, new *Config) Changes {
	var c Changes

	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevel = true
		c.NewLogLevel = new.Server.LogLevel
	}
	o, n := old.Realtime, new.Realtime
	c.Session = o.Instructions != n.Instructions ||
		o.Voice != n.Voice ||
		o.TurnDetection != n.TurnDetection

	if old.Server.ListenAddr != new.Server.ListenAddr {
		c.Restart = append(c.Restart, "server.listen_addr")
	}
	if o.URL != n.URL || o.Model != n.Model || o.APIKey != n.APIKey ||
		o.TranscriptionModel != n.TranscriptionModel || o.ConnectTimeout != n.ConnectTimeout {
		c.Restart = append(c.Restart, "realtime")
	}
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"classifier", old.Classifier, new.Classifier},
		{"audio", old.Audio, new.Audio},
		{"tools", old.Tools, new.Tools},
		{"store", old.Store, new.Store},
		{"settings_path", old.SettingsPath, new.SettingsPath},
		{"location", old.Location, new.Location},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			c.Restart = append(c.Restart, s.name)
		}
	}
	slices.Sort(c.Restart)
	return c
}
