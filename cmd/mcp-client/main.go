package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	agent "github.com/Protocol-Lattice/go-mcp-client"
	"github.com/Protocol-Lattice/go-mcp-client/src/config"
	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
	"github.com/Protocol-Lattice/go-mcp-client/src/helpers"
	"github.com/Protocol-Lattice/go-mcp-client/src/httpapi"
	"github.com/Protocol-Lattice/go-mcp-client/src/toolhost"
)

type CLI struct {
	Globals

	Chat   ChatCommand   `cmd:"" default:"1" help:"Interactive chat (default)"`
	Ask    AskCommand    `cmd:"" help:"Send one query and print the answer"`
	Models ModelsCommand `cmd:"" help:"List providers and their models"`
	Tools  ToolsCommand  `cmd:"" help:"List the tool host's tools"`
	Serve  ServeCommand  `cmd:"" help:"Serve the HTTP API"`
}

type Globals struct {
	Config  string `name:"config" help:"YAML configuration file" type:"path" optional:""`
	EnvFile string `name:"env-file" help:"dotenv file to load" default:".env"`
	Server  string `name:"server" short:"s" help:"Tool host: server script, command line, MCP URL or utcp:<providers.json>" env:"MCP_TOOL_HOST"`
	Model   string `name:"model" short:"m" help:"Model reference, e.g. anthropic/claude-3-5-sonnet-20241022"`
	Debug   bool   `name:"debug" help:"Enable debug logging"`

	ctx    context.Context
	logger *slog.Logger
}

type ChatCommand struct{}

type AskCommand struct {
	Query []string `arg:"" help:"Query text"`
}

type ModelsCommand struct{}

type ToolsCommand struct{}

type ServeCommand struct {
	Addr string `name:"addr" help:"Listen address" default:":8080"`
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("mcp-client"),
		kong.Description("Chat with an LLM that can call MCP or UTCP tools"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.ctx = ctx

	level := slog.LevelWarn
	if cli.Debug {
		level = slog.LevelDebug
	}
	cli.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(cli.logger)

	if err := kctx.Run(&cli.Globals); err != nil {
		log.Fatalf("mcp-client: %v", err)
	}
}

// open loads configuration, connects the tool host and starts a session.
// The caller closes both.
func (g *Globals) open(observer agent.Observer) (*agent.Session, toolhost.Host, error) {
	cfg, err := config.Load(g.Config, g.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if g.Server != "" {
		cfg.ToolHost = g.Server
	}
	if g.Model != "" {
		cfg.DefaultModel = g.Model
	}
	if strings.TrimSpace(cfg.ToolHost) == "" {
		return nil, nil, fmt.Errorf("no tool host: pass --server or set MCP_TOOL_HOST")
	}

	host, err := toolhost.Open(g.ctx, cfg.ToolHost)
	if err != nil {
		return nil, nil, fmt.Errorf("connect tool host %s: %w", cfg.ToolHost, err)
	}
	opts, err := agent.OptionsFromConfig(cfg, host)
	if err != nil {
		_ = host.Close()
		return nil, nil, err
	}
	opts.Logger = g.logger
	opts.Observer = observer

	session, err := agent.NewSession(g.ctx, opts)
	if err != nil {
		_ = host.Close()
		return nil, nil, err
	}
	return session, host, nil
}

func printToolCalls() agent.Observer {
	return agent.Observer{
		OnToolCall: func(req conversation.ToolCallRequest, _ conversation.ToolCallResult) {
			fmt.Printf("[Calling tool %s with args %s]\n", req.ToolName, helpers.FormatArguments(req.Arguments))
		},
	}
}

func (cmd *ChatCommand) Run(g *Globals) error {
	session, host, err := g.open(printToolCalls())
	if err != nil {
		return err
	}
	defer host.Close()
	defer session.Close()

	provider, model := session.Backend()
	fmt.Printf("Connected to %s with tools: %s\n", host.Name(), helpers.ToolNames(session.Tools()))
	fmt.Printf("Using %s/%s. Type your queries or 'quit' to exit.\n", provider, model)
	return runChat(g.ctx, session, os.Stdin, os.Stdout)
}

func (cmd *AskCommand) Run(g *Globals) error {
	session, host, err := g.open(printToolCalls())
	if err != nil {
		return err
	}
	defer host.Close()
	defer session.Close()

	answer, err := session.SubmitQuery(g.ctx, strings.Join(cmd.Query, " "))
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func (cmd *ModelsCommand) Run(g *Globals) error {
	session, host, err := g.open(agent.Observer{})
	if err != nil {
		return err
	}
	defer host.Close()
	defer session.Close()

	printBackends(os.Stdout, session.ListBackends())
	return nil
}

func (cmd *ToolsCommand) Run(g *Globals) error {
	session, host, err := g.open(agent.Observer{})
	if err != nil {
		return err
	}
	defer host.Close()
	defer session.Close()

	printTools(os.Stdout, session.Tools())
	return nil
}

func (cmd *ServeCommand) Run(g *Globals) error {
	session, host, err := g.open(agent.Observer{})
	if err != nil {
		return err
	}
	defer host.Close()
	defer session.Close()

	if !g.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.New(session, g.logger).ListenAndServe(g.ctx, cmd.Addr)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
