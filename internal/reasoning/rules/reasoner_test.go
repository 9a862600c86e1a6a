package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/workflow"
)

var found = []listing.Listing{
	{Address: "8810 Mesa Verde Cir", City: "Austin", State: "TX", ZipCode: "78749", Price: 465000, Source: "zillow"},
	{Address: "1204 Oak Hollow Dr", City: "Austin", State: "TX", ZipCode: "78745", Price: 479000, Source: "zillow"},
}

func result(name, content string, isError bool) workflow.Message {
	return workflow.Message{Role: workflow.RoleTool, Results: []workflow.ToolResult{{
		CallID: "c", Name: name, Content: content, IsError: isError,
	}}}
}

func TestNext(t *testing.T) {
	austin := listing.Criteria{Location: "Austin"}

	tests := []struct {
		name     string
		conv     workflow.Conversation
		wantTool string
		wantArgs map[string]any
		summary  string
	}{
		{
			name:     "new search starts with search",
			conv:     workflow.Conversation{Criteria: austin},
			wantTool: workflow.ToolSearchListings,
			wantArgs: map[string]any{},
		},
		{
			name: "results lead to sheet",
			conv: workflow.Conversation{
				Criteria: austin,
				Listings: found,
				Messages: []workflow.Message{result(workflow.ToolSearchListings, `{"status":"success"}`, false)},
			},
			wantTool: workflow.ToolCreateSheet,
		},
		{
			name: "sheet done leads to summary",
			conv: workflow.Conversation{
				Criteria: austin,
				Listings: found,
				SheetURL: "https://sheet",
				Messages: []workflow.Message{
					result(workflow.ToolSearchListings, `{"status":"success"}`, false),
					result(workflow.ToolCreateSheet, `{"status":"success"}`, false),
				},
			},
			summary: "Found 2 listings in Austin. Prices range from $465,000 to $479,000, averaging $472,000. " +
				"Lowest priced: 8810 Mesa Verde Cir, Austin, TX 78749 at $465,000. Google Sheet: https://sheet",
		},
		{
			name: "no results suggests broader criteria",
			conv: workflow.Conversation{
				Criteria: austin,
				Messages: []workflow.Message{result(workflow.ToolSearchListings, `{"status":"no_results"}`, false)},
			},
			summary: "No listings found in Austin matching your criteria. " +
				"Try a wider price range, fewer bedrooms, or a longer listing window.",
		},
		{
			name: "sheet failure is reported",
			conv: workflow.Conversation{
				Criteria: austin,
				Listings: found[:1],
				Messages: []workflow.Message{
					result(workflow.ToolSearchListings, `{"status":"success"}`, false),
					result(workflow.ToolCreateSheet, `{"status":"error","error":"quota"}`, true),
				},
			},
			summary: "Found 1 listings in Austin. Prices range from $465,000 to $465,000, averaging $465,000. " +
				"Lowest priced: 8810 Mesa Verde Cir, Austin, TX 78749 at $465,000. Sheet creation failed: quota",
		},
		{
			name:     "resumed request goes straight to sheet",
			conv:     workflow.Conversation{Criteria: austin, Listings: found, Resumed: true},
			wantTool: workflow.ToolCreateSheet,
		},
		{
			name: "follow-up question reuses listings",
			conv: workflow.Conversation{
				Criteria: austin, Listings: found, SheetURL: "https://sheet",
				Followup: true, Text: "which one is cheapest?",
			},
			summary: "Found 2 listings in Austin. Prices range from $465,000 to $479,000, averaging $472,000. " +
				"Lowest priced: 8810 Mesa Verde Cir, Austin, TX 78749 at $465,000. Google Sheet: https://sheet",
		},
		{
			name: "follow-up with new bounds searches",
			conv: workflow.Conversation{
				Criteria: austin, Listings: found, SheetURL: "https://sheet",
				Followup: true, Text: "what about 4 bedrooms under $450k?",
			},
			wantTool: workflow.ToolSearchListings,
			wantArgs: map[string]any{"min_beds": float64(4), "max_price": float64(450000)},
		},
		{
			name: "follow-up asking to search again",
			conv: workflow.Conversation{
				Criteria: austin, Listings: found,
				Followup: true, Text: "search again please",
			},
			wantTool: workflow.ToolSearchListings,
			wantArgs: map[string]any{},
		},
		{
			name: "follow-up asking for a new sheet reuses listings",
			conv: workflow.Conversation{
				Criteria: austin, Listings: found,
				Followup: true, Text: "make a new sheet again",
			},
			wantTool: workflow.ToolCreateSheet,
		},
		{
			name: "follow-up asking for new listings searches",
			conv: workflow.Conversation{
				Criteria: austin, Listings: found, SheetURL: "https://sheet",
				Followup: true, Text: "any new listings?",
			},
			wantTool: workflow.ToolSearchListings,
			wantArgs: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := tt.conv
			d, err := New().Next(context.Background(), &conv)
			require.NoError(t, err)

			if tt.wantTool == "" {
				assert.True(t, d.Final())
				assert.Equal(t, tt.summary, d.Summary)
				return
			}
			require.Len(t, d.ToolCalls, 1)
			assert.Equal(t, tt.wantTool, d.ToolCalls[0].Name)
			assert.NotEmpty(t, d.ToolCalls[0].ID)
			if tt.wantArgs != nil {
				var args map[string]any
				require.NoError(t, json.Unmarshal(d.ToolCalls[0].Arguments, &args))
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}
