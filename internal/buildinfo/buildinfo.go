// Package buildinfo carries version details stamped at link time:
//
//	go build -ldflags "-X orderhub/internal/buildinfo.Version=1.2.0 -X orderhub/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the stamped values. An unstamped Commit falls back to the VCS
// revision recorded by the Go toolchain, when present.
func Info() map[string]string {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	return map[string]string{
		"version":   Version,
		"commit":    commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}

// String is the one-line form used by the CLI.
func String() string {
	i := Info()
	s := "orderhub " + i["version"]
	if i["commit"] != "" {
		s += " (" + i["commit"] + ")"
	}
	if i["builtAt"] != "" {
		s += " built " + i["builtAt"]
	}
	return s + " " + i["goVersion"]
}
