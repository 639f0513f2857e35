package modules

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/modwire/cmd/core"
	"github.com/projecteru2/modwire/container"
	"github.com/projecteru2/modwire/db"
	"github.com/projecteru2/modwire/types"
)

// Handler implements Actions against a freshly opened Container per
// invocation — the CLI is not a long-running process, so every command
// bootstraps, acts, and persists via cmdcore.OpenContainer/closeFn.
type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) withContainer(cmd *cobra.Command, fn func(c *container.Container) error) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	c, closeFn, err := cmdcore.OpenContainer(ctx, conf)
	if err != nil {
		return err
	}
	fnErr := fn(c)
	if closeErr := closeFn(); closeErr != nil && fnErr == nil {
		return fmt.Errorf("persist database: %w", closeErr)
	}
	return fnErr
}

func parseModuleID(s string) (types.ModuleID, error) {
	n, err := strconv.ParseUint(s, 10, 64) //nolint:mnd
	if err != nil {
		return 0, fmt.Errorf("invalid module id %q: %w", s, err)
	}
	return types.ModuleID(n), nil
}

func (h Handler) Install(cmd *cobra.Command, args []string) error {
	location, descriptorPath := args[0], args[1]
	return h.withContainer(cmd, func(c *container.Container) error {
		d, err := loadDescriptor(descriptorPath)
		if err != nil {
			return err
		}
		ctx := cmdcore.CommandContext(cmd)
		m, err := c.Install(ctx, types.Location(location), nil, descriptorBuilder{d: d}, nil)
		if err != nil {
			return err
		}
		fmt.Printf("installed module %d at %s\n", m.ID, location)
		return nil
	})
}

func (h Handler) Update(cmd *cobra.Command, args []string) error {
	id, err := parseModuleID(args[0])
	if err != nil {
		return err
	}
	descriptorPath := args[1]
	return h.withContainer(cmd, func(c *container.Container) error {
		m := c.DB.GetModule(id)
		if m == nil {
			return fmt.Errorf("module %d not found", id)
		}
		d, err := loadDescriptor(descriptorPath)
		if err != nil {
			return err
		}
		ctx := cmdcore.CommandContext(cmd)
		if err := c.Update(ctx, m, descriptorBuilder{d: d}, nil); err != nil {
			return err
		}
		fmt.Printf("updated module %d\n", m.ID)
		return nil
	})
}

func (h Handler) Uninstall(cmd *cobra.Command, args []string) error {
	id, err := parseModuleID(args[0])
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		confirmed, err := confirmPrompt(fmt.Sprintf("uninstall module %d? [y/N] ", id))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("aborted")
			return nil
		}
	}
	return h.withContainer(cmd, func(c *container.Container) error {
		m := c.DB.GetModule(id)
		if m == nil {
			return fmt.Errorf("module %d not found", id)
		}
		if err := c.Uninstall(cmdcore.CommandContext(cmd), m); err != nil {
			return err
		}
		fmt.Printf("uninstalled module %d\n", m.ID)
		return nil
	})
}

// confirmPrompt asks the user to confirm a destructive operation. When
// stdin isn't an interactive terminal (scripted/piped invocation) it
// refuses by default rather than blocking on a read that will never
// resolve, matching the teacher's term.IsTerminal guard in cmd/vm's
// console handler.
func confirmPrompt(prompt string) (bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false, fmt.Errorf("stdin is not a terminal; pass --force to skip confirmation")
	}
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}

func (h Handler) modulesFromArgs(c *container.Container, args []string) ([]*types.Module, error) {
	if len(args) == 0 {
		return c.DB.GetModules(), nil
	}
	out := make([]*types.Module, 0, len(args))
	for _, a := range args {
		id, err := parseModuleID(a)
		if err != nil {
			return nil, err
		}
		m := c.DB.GetModule(id)
		if m == nil {
			return nil, fmt.Errorf("module %d not found", id)
		}
		out = append(out, m)
	}
	return out, nil
}

func (h Handler) Resolve(cmd *cobra.Command, args []string) error {
	return h.withContainer(cmd, func(c *container.Container) error {
		targets, err := h.modulesFromArgs(c, args)
		if err != nil {
			return err
		}
		if err := c.Resolve(cmdcore.CommandContext(cmd), targets, false, false); err != nil {
			return err
		}
		fmt.Printf("resolved %d module(s)\n", len(targets))
		return nil
	})
}

func (h Handler) Refresh(cmd *cobra.Command, args []string) error {
	return h.withContainer(cmd, func(c *container.Container) error {
		var targets []*types.Module
		if len(args) > 0 {
			var err error
			targets, err = h.modulesFromArgs(c, args)
			if err != nil {
				return err
			}
		}
		if err := c.Refresh(cmdcore.CommandContext(cmd), targets); err != nil {
			return err
		}
		fmt.Println("refresh complete")
		return nil
	})
}

func (h Handler) PS(cmd *cobra.Command, _ []string) error {
	conf, err := h.Conf()
	if err != nil {
		return err
	}
	return h.withContainer(cmd, func(c *container.Container) error {
		modules := c.DB.GetModules()
		c.DB.Sort(modules, db.BySortStartLevel, db.BySortDependency)
		fmt.Printf("%-6s %-12s %-8s %-24s %s\n", "ID", "STATE", "LEVEL", "NAME", "VERSION")
		for _, m := range modules {
			fmt.Printf("%-6d %-12s %-8d %-24s %s\n",
				m.ID, m.State, c.DB.GetStartLevel(m.ID), m.SymbolicName(), m.Version())
		}
		fmt.Printf("(location/name lock timeout: %s)\n", formatTimeout(conf.LocationLockTimeout))
		return nil
	})
}

// formatTimeout renders a lock-acquisition timeout the way the teacher's
// CLI help text renders durations, using go-units for human scale instead
// of raw Go duration syntax.
func formatTimeout(d time.Duration) string {
	return units.HumanDuration(d)
}

func (h Handler) StartLevel(cmd *cobra.Command, args []string) error {
	return h.withContainer(cmd, func(c *container.Container) error {
		if len(args) == 0 {
			fmt.Printf("active start level: %d\n", c.StartLevel.ActiveStartLevel())
			return nil
		}
		target := container.UseBeginningStartLevel
		if args[0] != "beginning" {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid start level %q: %w", args[0], err)
			}
			target = n
		}
		if err := c.StartLevel.SetFrameworkStartLevel(cmdcore.CommandContext(cmd), target); err != nil {
			return err
		}
		fmt.Printf("ramping to start level %d (queued)\n", target)
		return nil
	})
}

func (h Handler) ModuleStartLevel(cmd *cobra.Command, args []string) error {
	id, err := parseModuleID(args[0])
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid start level %q: %w", args[1], err)
	}
	return h.withContainer(cmd, func(c *container.Container) error {
		m := c.DB.GetModule(id)
		if m == nil {
			return fmt.Errorf("module %d not found", id)
		}
		if err := c.StartLevel.SetModuleStartLevel(cmdcore.CommandContext(cmd), m, level); err != nil {
			return err
		}
		fmt.Printf("module %d start level set to %d\n", id, level)
		return nil
	})
}

