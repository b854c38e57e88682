package client

import (
	"context"

	"github.com/a-h/chatrelay/models"
	"github.com/a-h/jsonapi"
)

func New(baseURL, apiKey string) Client {
	return Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type Client struct {
	baseURL string
	apiKey  string
}

// ChatPost sends the conversation to the relay and returns the reply.
// Non-2xx responses are returned as jsonapi.InvalidStatusError.
func (c Client) ChatPost(ctx context.Context, req models.ChatPostRequest) (resp models.ChatPostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("chat").String()
	if err != nil {
		return resp, err
	}
	if c.apiKey == "" {
		return jsonapi.Post[models.ChatPostRequest, models.ChatPostResponse](ctx, url, req)
	}
	return jsonapi.Post[models.ChatPostRequest, models.ChatPostResponse](ctx, url, req, jsonapi.WithRequestHeader("Authorization", "Bearer "+c.apiKey))
}
