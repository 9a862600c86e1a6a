package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/server"
	"github.com/teemow/homesheet/internal/tools/housing_tools"
	"github.com/teemow/homesheet/internal/workflow"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// docsHandler and docsAuth satisfy the server context so tools can be
// registered without any backing services.
type docsHandler struct{}

func (docsHandler) Handle(context.Context, workflow.Request) workflow.Response {
	return workflow.Response{}
}

type docsAuth struct{}

func (docsAuth) StartOrResume(context.Context, string) (auth.Prompt, error) {
	return auth.Prompt{}, nil
}

func (docsAuth) Poll(context.Context, string) (auth.PollResult, error) {
	return auth.PollResult{Status: auth.PollNoAttempt}, nil
}

func (docsAuth) Status(context.Context, string) (auth.State, error) {
	return auth.StateUnauthenticated, nil
}

func (docsAuth) Revoke(context.Context, string) error { return nil }

func runGenerateDocs(outputFile string) error {
	markdown, err := toolsMarkdown()
	if err != nil {
		return err
	}

	// Write to output
	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func toolsMarkdown() (string, error) {
	all, err := registeredTools(false)
	if err != nil {
		return "", err
	}
	readOnly, err := registeredTools(true)
	if err != nil {
		return "", err
	}

	writeOnly := make(map[string]bool)
	for name := range all {
		if _, ok := readOnly[name]; !ok {
			writeOnly[name] = true
		}
	}

	tools := make([]mcp.Tool, 0, len(all))
	for _, tool := range all {
		tools = append(tools, tool)
	}
	return generateToolsMarkdown(tools, writeOnly), nil
}

// registeredTools registers the housing tools on a throwaway server and
// returns them by name.
func registeredTools(readOnly bool) (map[string]mcp.Tool, error) {
	serverContext := server.NewServerContext(context.Background(), docsHandler{}, docsAuth{}, nil)
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer("homesheet", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := housing_tools.RegisterHousingTools(mcpSrv, serverContext, readOnly); err != nil {
		return nil, fmt.Errorf("failed to register housing tools: %w", err)
	}

	tools := make(map[string]mcp.Tool)
	for name, serverTool := range mcpSrv.ListTools() {
		tools[name] = serverTool.Tool
	}
	return tools, nil
}

func generateToolsMarkdown(tools []mcp.Tool, writeOnly map[string]bool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools exposed by `homesheet serve` over stdio and at `/mcp`.\n\n")
	sb.WriteString("**Note:** Generated by `homesheet generate-docs`; do not edit by hand.\n\n")

	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := toolCategory(tool.Name)
		byCategory[category] = append(byCategory[category], tool)
	}
	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, anchor)
	}
	sb.WriteString("- [Responses](#responses)\n\n")

	sb.WriteString("## Users\n\n")
	sb.WriteString("All tools accept an optional `user_id` selecting whose session and Google connection to use:\n\n")
	sb.WriteString("- **Default behavior:** Without `user_id` the user comes from the `X-User-ID` header or the bearer token of the HTTP transport\n")
	sb.WriteString("- **Fallback:** Otherwise the `default` user is used\n")
	sb.WriteString("- **Isolation:** Each user has one conversation session and one Google connection\n\n")

	for _, category := range categories {
		categoryTools := byCategory[category]
		sort.Slice(categoryTools, func(i, j int) bool {
			return categoryTools[i].Name < categoryTools[j].Name
		})

		fmt.Fprintf(&sb, "## %s\n\n", category)
		for _, tool := range categoryTools {
			sb.WriteString(generateToolMarkdown(tool, writeOnly[tool.Name]))
			sb.WriteString("\n")
		}
	}

	sb.WriteString(responsesMarkdown())
	return sb.String()
}

func toolCategory(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	switch prefix {
	case "housing":
		return "Housing Tools"
	case "google":
		return "Google Connection Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool, writeOnly bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}
	if writeOnly {
		sb.WriteString("_Not available with `--read-only`._\n\n")
	}

	if len(tool.InputSchema.Properties) == 0 {
		return sb.String()
	}

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("**Arguments:**\n")
	for _, name := range names {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		presence := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			presence = "required"
		}
		desc, _ := prop["description"].(string)
		if desc == "" {
			desc = propertyType(prop) + " parameter"
		}
		fmt.Fprintf(&sb, "- `%s` (%s, %s): %s\n", name, presence, propertyType(prop), desc)
	}
	sb.WriteString("\n")
	return sb.String()
}

// responsesMarkdown documents the JSON returned by the housing and
// google_auth tools.
func responsesMarkdown() string {
	var sb strings.Builder
	sb.WriteString("## Responses\n\n")
	sb.WriteString("`housing_search`, `housing_followup` and `google_auth` return a JSON object with `request_id`, `status`, `reply`, `num_results`, `session_id` and, when present, `sheet_url`, `auth_prompt` and `failure`.\n\n")
	sb.WriteString("| status | meaning |\n|--------|---------|\n")
	for _, row := range [][2]string{
		{string(workflow.StateDone), "results were written to `sheet_url`, or the reply explains why not"},
		{string(workflow.StateAuthRequired), "visit `auth_prompt.verification_url` and enter `auth_prompt.user_code`, then retry"},
		{string(workflow.StateFailed), "the call is marked as an error; `failure.kind` names the cause"},
	} {
		fmt.Fprintf(&sb, "| `%s` | %s |\n", row[0], row[1])
	}
	sb.WriteString("\n")
	return sb.String()
}

func propertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
