// ABOUTME: AliasAdapter rewrites a Request's alias model id (e.g. "primary",
// ABOUTME: "fast") to a concrete vendor model id before delegating, since
// ABOUTME: Stream bypasses the middleware chain entirely (see client.go).
package llm

import "context"

// AliasAdapter decorates a ProviderAdapter, resolving req.Model through
// aliases before delegating. Requests whose Model isn't a known alias pass
// through unchanged. Grounded on the same wrap-don't-reimplement shape the
// Tool Pipeline's snapshot decorator uses for mutating tool calls.
type AliasAdapter struct {
	inner   ProviderAdapter
	aliases map[string]string
}

// NewAliasAdapter builds an AliasAdapter around inner using aliases, a map
// of alias name (e.g. "primary") to concrete model id (e.g. "claude-sonnet-4-5").
func NewAliasAdapter(inner ProviderAdapter, aliases map[string]string) *AliasAdapter {
	return &AliasAdapter{inner: inner, aliases: aliases}
}

func (a *AliasAdapter) resolve(req Request) Request {
	if resolved, ok := a.aliases[req.Model]; ok {
		req.Model = resolved
	}
	return req
}

func (a *AliasAdapter) Name() string { return a.inner.Name() }

func (a *AliasAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	return a.inner.Complete(ctx, a.resolve(req))
}

func (a *AliasAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	return a.inner.Stream(ctx, a.resolve(req))
}

func (a *AliasAdapter) Close() error { return a.inner.Close() }

var _ ProviderAdapter = (*AliasAdapter)(nil)
