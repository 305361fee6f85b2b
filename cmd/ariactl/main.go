// Command ariactl is the operator CLI for the Aria Runtime: container
// lifecycle operations talk straight to the daemon's IPC socket (§6),
// session operations talk to the gRPC session service (internal/sessionsvc).
// Grounded on the teacher's cmd/hector kong.CLI/subcommand layout, split
// here across two resource groups instead of one monolithic serve command.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"

	"github.com/ariacorp/ariarun/internal/config"
	"github.com/ariacorp/ariarun/internal/container"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/sessionsvc"
)

// CLI is ariactl's full command surface.
type CLI struct {
	IPCSocket string `help:"Container lifecycle IPC socket path." default:"/run/quilt/api.sock"`
	GRPCAddr  string `help:"Session service gRPC address." default:"127.0.0.1:9090"`

	Container ContainerCmd `cmd:"" help:"Container lifecycle operations."`
	Session   SessionCmd   `cmd:"" help:"Session operations."`
	Schema    SchemaCmd    `cmd:"" help:"Generate JSON Schema for the config file."`
}

// SchemaCmd generates JSON Schema for config.Config, grounded on the
// teacher's cmd/hector/schema.go (same invopop/jsonschema reflector
// settings), so downstream config tooling can validate config.yaml the
// same way the teacher's web UI config builder validates its own.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://ariacorp.dev/schemas/config.json"
	schema.Title = "Aria Runtime Configuration Schema"
	schema.Description = "Configuration schema for the Aria Runtime daemon"

	enc := json.NewEncoder(os.Stdout)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(schema)
}

// ContainerCmd groups the container lifecycle subcommands.
type ContainerCmd struct {
	Create CreateContainerCmd `cmd:"" help:"Create and start a container."`
	Status ContainerStatusCmd `cmd:"" help:"Show a container's status."`
	Stop   ContainerStopCmd   `cmd:"" help:"Stop a running container."`
	Remove ContainerRemoveCmd `cmd:"" help:"Remove a stopped container."`
}

// CreateContainerCmd issues a CreateContainer IPC call.
type CreateContainerCmd struct {
	User      string   `required:"" help:"Owning user id."`
	Session   string   `required:"" help:"Owning session id."`
	Image     string   `required:"" help:"Container image path/tag."`
	Command   []string `arg:"" optional:"" help:"Command to run in the container."`
	Networked bool     `help:"Attach the container to the bridge network."`
	MemoryMB  int      `default:"512" help:"Memory limit in MB."`
}

func (c *CreateContainerCmd) Run(cli *CLI) error {
	ipc, err := container.DialIPC(cli.IPCSocket)
	if err != nil {
		return fmt.Errorf("ariactl: dial ipc: %w", err)
	}
	defer ipc.Close()

	params := map[string]any{
		"user_id":    c.User,
		"session_id": c.Session,
		"spec": domain.ContainerSpec{
			Image: c.Image, Command: c.Command, Networked: c.Networked,
			Limits: domain.ResourceLimits{MemoryMB: c.MemoryMB},
		},
	}
	var out map[string]any
	if err := ipc.Call("CreateContainer", params, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// ContainerStatusCmd issues a GetContainerStatus IPC call.
type ContainerStatusCmd struct {
	ID string `arg:"" help:"Container id."`
}

func (c *ContainerStatusCmd) Run(cli *CLI) error {
	ipc, err := container.DialIPC(cli.IPCSocket)
	if err != nil {
		return fmt.Errorf("ariactl: dial ipc: %w", err)
	}
	defer ipc.Close()

	var out map[string]any
	if err := ipc.Call("GetContainerStatus", map[string]any{"id": c.ID}, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// ContainerStopCmd issues a StopContainer IPC call.
type ContainerStopCmd struct {
	ID string `arg:"" help:"Container id."`
}

func (c *ContainerStopCmd) Run(cli *CLI) error {
	ipc, err := container.DialIPC(cli.IPCSocket)
	if err != nil {
		return fmt.Errorf("ariactl: dial ipc: %w", err)
	}
	defer ipc.Close()

	var out map[string]any
	if err := ipc.Call("StopContainer", map[string]any{"id": c.ID}, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// ContainerRemoveCmd issues a RemoveContainer IPC call.
type ContainerRemoveCmd struct {
	ID string `arg:"" help:"Container id."`
}

func (c *ContainerRemoveCmd) Run(cli *CLI) error {
	ipc, err := container.DialIPC(cli.IPCSocket)
	if err != nil {
		return fmt.Errorf("ariactl: dial ipc: %w", err)
	}
	defer ipc.Close()

	var out map[string]any
	if err := ipc.Call("RemoveContainer", map[string]any{"id": c.ID}, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// SessionCmd groups the gRPC session service subcommands.
type SessionCmd struct {
	Create SessionCreateCmd `cmd:"" help:"Create a session."`
	Get    SessionGetCmd    `cmd:"" help:"Look up a session."`
	Turn   SessionTurnCmd   `cmd:"" help:"Execute one turn, printing each streamed event."`
}

// SessionCreateCmd calls the session service's CreateSession RPC.
type SessionCreateCmd struct {
	User  string `required:"" help:"Owning user id."`
	Agent string `required:"" help:"Agent name to bind the session to."`
}

func (c *SessionCreateCmd) Run(cli *CLI) error {
	client, err := sessionsvc.Dial(cli.GRPCAddr)
	if err != nil {
		return fmt.Errorf("ariactl: dial session service: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := client.CreateSession(ctx, c.User, c.Agent)
	if err != nil {
		return err
	}
	return printJSON(sess.AsMap())
}

// SessionGetCmd calls the session service's GetSession RPC.
type SessionGetCmd struct {
	ID string `arg:"" help:"Session id."`
}

func (c *SessionGetCmd) Run(cli *CLI) error {
	client, err := sessionsvc.Dial(cli.GRPCAddr)
	if err != nil {
		return fmt.Errorf("ariactl: dial session service: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := client.GetSession(ctx, c.ID)
	if err != nil {
		return err
	}
	return printJSON(sess.AsMap())
}

// SessionTurnCmd calls the session service's streaming ExecuteTurn RPC,
// printing each event to stdout as it arrives.
type SessionTurnCmd struct {
	ID    string `arg:"" help:"Session id."`
	Input string `arg:"" help:"Turn input text."`
}

func (c *SessionTurnCmd) Run(cli *CLI) error {
	client, err := sessionsvc.Dial(cli.GRPCAddr)
	if err != nil {
		return fmt.Errorf("ariactl: dial session service: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stream, err := client.ExecuteTurn(ctx, c.ID, c.Input)
	if err != nil {
		return err
	}

	for {
		msg, err := sessionsvc.RecvTurnEvent(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := printJSON(msg); err != nil {
			return err
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	k := kong.Parse(&cli,
		kong.Name("ariactl"),
		kong.Description("Aria Runtime operator CLI"),
		kong.UsageOnError(),
	)
	k.FatalIfErrorf(k.Run(&cli))
}
