package sim

import (
	"context"
	"fmt"
)

// APIClient performs the external call behind an apiRequest node. The
// simulator never touches the network; implementations decide what a
// "call" means.
type APIClient interface {
	Call(ctx context.Context, method, url string) (string, error)
}

// CannedAPIClient is the default APIClient: it returns a fixed response
// per URL, or a generic placeholder for URLs it has no canning for.
// Errors force the failure path without any real endpoint.
type CannedAPIClient struct {
	// Responses maps exact URLs to canned response bodies.
	Responses map[string]string

	// Errors maps exact URLs to forced errors, taking precedence over Responses.
	Errors map[string]error
}

// Call returns the canned response for the URL.
func (c *CannedAPIClient) Call(_ context.Context, method, url string) (string, error) {
	if err, ok := c.Errors[url]; ok {
		return "", err
	}
	if body, ok := c.Responses[url]; ok {
		return body, nil
	}
	return fmt.Sprintf("simulated %s response from %s", method, url), nil
}

var _ APIClient = (*CannedAPIClient)(nil)
