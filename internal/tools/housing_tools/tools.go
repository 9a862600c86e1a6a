package housing_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/server"
	"github.com/teemow/homesheet/internal/tools/common"
	"github.com/teemow/homesheet/internal/workflow"
)

const userIDDescription = "User the request runs for (default: the transport identity, then 'default'). Each user has one session and one Google connection."

// toolResponse is the JSON body returned by the request tools.
type toolResponse struct {
	RequestID  string            `json:"request_id"`
	Status     workflow.State    `json:"status"`
	Reply      string            `json:"reply"`
	SheetURL   string            `json:"sheet_url,omitempty"`
	NumResults int               `json:"num_results"`
	SessionID  string            `json:"session_id"`
	AuthPrompt *auth.Prompt      `json:"auth_prompt,omitempty"`
	Failure    *workflow.Failure `json:"failure,omitempty"`
}

// RegisterHousingTools registers the housing search and Google connection
// tools with the MCP server. Revocation is only registered when readOnly is
// false.
func RegisterHousingTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if sc.Handler() == nil || sc.Auth() == nil {
		return fmt.Errorf("housing tools need a request handler and an auth service")
	}

	searchTool := mcp.NewTool("housing_search",
		mcp.WithDescription("Search real estate listings described in natural language and publish the results to a new Google Sheet"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, e.g. '2 bedroom apartment in Austin under $2500'"),
		),
		mcp.WithString("user_id",
			mcp.Description(userIDDescription),
		),
	)
	s.AddTool(searchTool, common.InstrumentedToolHandler("housing_search", sc, requestHandler(sc, workflow.RequestSearch)))

	followupTool := mcp.NewTool("housing_followup",
		mcp.WithDescription("Refine or act on the previous search of this user, e.g. 'only show places with parking' or 'make a sheet of those'"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The follow-up message"),
		),
		mcp.WithString("user_id",
			mcp.Description(userIDDescription),
		),
	)
	s.AddTool(followupTool, common.InstrumentedToolHandler("housing_followup", sc, requestHandler(sc, workflow.RequestFollowup)))

	authTool := mcp.NewTool("google_auth",
		mcp.WithDescription("Connect Google Sheets for this user. Returns a verification URL and a code to enter there, or confirms an existing connection."),
		mcp.WithString("user_id",
			mcp.Description(userIDDescription),
		),
	)
	s.AddTool(authTool, common.InstrumentedToolHandler("google_auth", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleAuth(ctx, request, sc)
	}))

	statusTool := mcp.NewTool("google_auth_status",
		mcp.WithDescription("Show whether Google is connected for this user. With poll=true, first check a pending authorization attempt for approval."),
		mcp.WithString("user_id",
			mcp.Description(userIDDescription),
		),
		mcp.WithBoolean("poll",
			mcp.Description("Check the pending device authorization once before reporting (default: false)"),
		),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("google_auth_status", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleAuthStatus(ctx, request, sc)
	}))

	if !readOnly {
		revokeTool := mcp.NewTool("google_auth_revoke",
			mcp.WithDescription("Disconnect Google for this user by deleting the stored credential and any pending authorization"),
			mcp.WithString("user_id",
				mcp.Description(userIDDescription),
			),
		)
		s.AddTool(revokeTool, common.InstrumentedToolHandler("google_auth_revoke", sc, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthRevoke(ctx, request, sc)
		}))
	}

	return nil
}

func requestHandler(sc *server.ServerContext, typ workflow.RequestType) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleRequest(ctx, request, sc, typ)
	}
}

func handleRequest(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, typ workflow.RequestType) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	userID := common.GetUserFromArgs(ctx, args)

	resp := sc.Handler().Handle(ctx, workflow.Request{UserID: userID, Text: query, Type: typ})
	return resultFor(userID, resp), nil
}

// handleAuth runs the connect command through the handler so an existing
// credential is reported instead of starting a new attempt.
func handleAuth(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID := common.GetUserFromArgs(ctx, request.GetArguments())
	resp := sc.Handler().Handle(ctx, workflow.Request{UserID: userID, Text: workflow.AuthCommand})
	return resultFor(userID, resp), nil
}

func handleAuthStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	userID := common.GetUserFromArgs(ctx, args)

	out := map[string]any{"user_id": userID}
	if poll, _ := args["poll"].(bool); poll {
		res, err := sc.Auth().Poll(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to poll authorization: %v", err)), nil
		}
		out["poll"] = res.Status
		if res.Prompt != nil {
			out["message"] = res.Prompt.Message()
		}
	}

	state, err := sc.Auth().Status(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read authorization state: %v", err)), nil
	}
	out["state"] = state

	result, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func handleAuthRevoke(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID := common.GetUserFromArgs(ctx, request.GetArguments())
	if err := sc.Auth().Revoke(ctx, userID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to revoke authorization: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Google disconnected for user %q.", userID)), nil
}

// resultFor renders a workflow response. Failed requests are returned as
// error results so clients can tell them apart.
func resultFor(userID string, resp workflow.Response) *mcp.CallToolResult {
	body := toolResponse{
		RequestID:  resp.RequestID,
		Status:     resp.Status,
		Reply:      ChatReply(resp),
		SheetURL:   resp.SheetURL,
		NumResults: resp.NumResults,
		SessionID:  userID,
		AuthPrompt: resp.AuthPrompt,
		Failure:    resp.Failure,
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode response: %v", err))
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = resp.Status == workflow.StateFailed
	return result
}

// ChatReply renders a response as a single chat message: the summary, then
// the sheet link when the summary does not already carry it.
func ChatReply(resp workflow.Response) string {
	reply := strings.TrimSpace(resp.Summary)
	if reply == "" && resp.Failure != nil {
		reply = resp.Failure.Message
	}
	if resp.SheetURL != "" && !strings.Contains(reply, resp.SheetURL) {
		reply += "\n\nResults sheet: " + resp.SheetURL
	}
	return reply
}
