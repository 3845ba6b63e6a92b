// Package schema serializes the command tree so agents can discover the
// CLI surface without scraping help text.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Flags       []Flag    `json:"flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Usage   string `json:"usage"`
	Default string `json:"default,omitempty"`
}

// Build serializes the command at commandPath, or the whole tree when the
// path is empty.
func Build(root *cobra.Command, commandPath string) (Command, error) {
	cmd := root
	for _, part := range strings.Fields(strings.TrimSpace(commandPath)) {
		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == part {
				cmd = c
				found = true
				break
			}
		}
		if !found {
			return Command{}, fmt.Errorf("command not found: %s", commandPath)
		}
	}
	return serialize(cmd), nil
}

func serialize(cmd *cobra.Command) Command {
	s := Command{
		Path:  strings.TrimSpace(cmd.CommandPath()),
		Use:   cmd.Use,
		Short: cmd.Short,
		Flags: collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []Flag {
	flags := []Flag{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		flags = append(flags, Flag{
			Name:    f.Name,
			Type:    f.Value.Type(),
			Usage:   f.Usage,
			Default: f.DefValue,
		})
	})
	return flags
}
