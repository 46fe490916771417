// Package httpcall provides the http-call node.
package httpcall

import (
	"context"
	"net/http"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
)

// Node renders url, headers and body against the inbound data and performs the call.
type Node struct {
	client *Client
}

func New(client *Client) *Node {
	if client == nil {
		client = NewClient(nil)
	}

	return &Node{client: client}
}

func (n *Node) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.HTTPCallConfig](req)
	if err != nil {
		return nil, err
	}

	url, err := nodes.Render(req, config.URL)
	if err != nil {
		return nil, err
	}

	headers, err := nodes.RenderMap(req, config.Headers)
	if err != nil {
		return nil, err
	}

	body, err := nodes.Render(req, config.Body)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodGet
	}

	return n.client.Do(ctx, method, url, headers, body)
}
