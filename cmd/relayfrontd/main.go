// Command relayfrontd runs the reverse proxy described by a YAML
// configuration file.
//
// For the list of subcommands, run:
//
//	relayfrontd --help
package main

import (
	"fmt"
	"os"
	"runtime/debug"
)

var (
	version string
	commit  string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "" {
			version = info.Main.Version
		}
		if commit == "" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					n := len(setting.Value)
					if n > 8 {
						n = 8
					}
					commit = setting.Value[:n]
					break
				}
			}
		}
	}
}

func versionString() string {
	if commit != "" {
		return fmt.Sprintf("%s (commit: %s)", version, commit)
	}
	return version
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
