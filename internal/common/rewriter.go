package common

import "context"

// Rewriter mutates the request or response held by metadata in place.
type Rewriter interface {
	// RewriteRequest returns an error when the request must not be forwarded.
	RewriteRequest(ctx context.Context, metadata *Metadata) (*RewriteDecision, error)
	RewriteResponse(ctx context.Context, metadata *Metadata) *RewriteDecision
	ServeRequest() bool
	ServeResponse() bool
}

type RewriteDecision struct {
	// Applied lists the names of the rules that ran, in order.
	Applied  []string
	Modified bool
}
