package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/a-h/chatrelay/client"
	"github.com/a-h/chatrelay/models"
	"gopkg.in/yaml.v3"
)

type AskCommand struct {
	ServerURL string `help:"The URL of the chat relay server." env:"CHAT_RELAY_URL" default:"http://localhost:8000"`
	APIKey    string `help:"The API key for the chat relay server." env:"CHAT_RELAY_API_KEY" default:""`
	Format    string `help:"The output format." enum:"text,json,yaml" default:"text"`
	Message   string `arg:"" help:"The message to send."`
}

func (c AskCommand) Run(ctx context.Context) (err error) {
	rsc := client.New(c.ServerURL, c.APIKey)
	resp, err := rsc.ChatPost(ctx, models.ChatPostRequest{
		Messages: []models.ChatMessage{
			{Role: models.ChatRoleUser, Content: c.Message},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return writeResponse(os.Stdout, c.Format, resp)
}

func writeResponse(w io.Writer, format string, resp models.ChatPostResponse) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(resp)
	case "text", "":
		_, err := fmt.Fprintln(w, resp.Response)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}
