package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	agent "github.com/Protocol-Lattice/go-mcp-client"
	"github.com/Protocol-Lattice/go-mcp-client/src/conversation"
)

// chatSession is what the chat loop needs from agent.Session.
type chatSession interface {
	SubmitQuery(ctx context.Context, text string) (string, error)
	SetBackend(provider, model string) error
	Backend() (provider, model string)
	ListBackends() map[string][]string
	Tools() []conversation.ToolDescriptor
	Reset()
}

var _ chatSession = (*agent.Session)(nil)

// runChat reads one line per query until quit, EOF or ctx is done.
// Query failures are printed and the loop goes on.
func runChat(ctx context.Context, session chatSession, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "\nQuery: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			return nil
		}
		if handled := chatCommand(session, line, out); handled {
			continue
		}

		answer, err := session.SubmitQuery(ctx, line)
		if err != nil {
			if errors.Is(err, agent.ErrAborted) && ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n", answer)
	}
}

// chatCommand runs the built-in commands. It reports false for anything
// that should go to the model.
func chatCommand(session chatSession, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "reset":
		if len(fields) != 1 {
			return false
		}
		session.Reset()
		fmt.Fprintln(out, "Conversation cleared.")
		return true
	case "tools":
		if len(fields) != 1 {
			return false
		}
		printTools(out, session.Tools())
		return true
	case "model":
		if len(fields) < 2 {
			return false
		}
	default:
		return false
	}

	switch strings.ToLower(fields[1]) {
	case "list":
		printBackends(out, session.ListBackends())
		provider, model := session.Backend()
		fmt.Fprintf(out, "Current: %s/%s\n", provider, model)
	case "set":
		var err error
		switch len(fields) {
		case 3:
			err = session.SetBackend("", fields[2])
		case 4:
			err = session.SetBackend(fields[2], fields[3])
		default:
			err = errors.New("usage: model set <provider/model> | model set <provider> <model>")
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return true
		}
		provider, model := session.Backend()
		fmt.Fprintf(out, "Switched to %s/%s\n", provider, model)
	default:
		return false
	}
	return true
}

func printBackends(out io.Writer, backends map[string][]string) {
	for _, provider := range sortedKeys(backends) {
		models := backends[provider]
		if len(models) == 0 {
			fmt.Fprintf(out, "%s: (not configured)\n", provider)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", provider, strings.Join(models, ", "))
	}
}

func printTools(out io.Writer, tools []conversation.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools.")
		return
	}
	for _, t := range tools {
		if t.Description == "" {
			fmt.Fprintf(out, "- %s\n", t.Name)
			continue
		}
		fmt.Fprintf(out, "- %s: %s\n", t.Name, t.Description)
	}
}
