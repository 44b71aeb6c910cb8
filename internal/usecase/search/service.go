package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/distsearch/internal/domain"
	"github.com/kailas-cloud/distsearch/internal/domain/namedlist"
	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// Response writer names accepted in the wt parameter.
const (
	WriterJSON = "json"
)

// RequestHandler executes a request into a response body.
type RequestHandler interface {
	Handle(ctx context.Context, p *params.Params) (*namedlist.NamedList, error)
}

// Service renders search responses in the requested wire format.
type Service struct {
	handler RequestHandler
}

// New creates a search service.
func New(handler RequestHandler) *Service {
	return &Service{handler: handler}
}

// Select runs a query and encodes its response body.
func (s *Service) Select(ctx context.Context, p *params.Params) ([]byte, error) {
	body, _, err := s.SelectPartial(ctx, p)
	return body, err
}

// SelectPartial is Select that also reports whether the response header
// carries partialResults.
func (s *Service) SelectPartial(ctx context.Context, p *params.Params) ([]byte, bool, error) {
	wt := p.Get("wt")
	if wt != "" && wt != WriterJSON {
		return nil, false, domain.BadRequestf("unknown response writer %q", wt)
	}
	indent, err := p.GetBool("indent", false)
	if err != nil {
		return nil, false, err
	}

	rsp, err := s.handler.Handle(ctx, p)
	if err != nil {
		return nil, false, err
	}
	partial := rsp.GetList("responseHeader").Get("partialResults") == true

	var body []byte
	if indent {
		body, err = json.MarshalIndent(rsp, "", "  ")
	} else {
		body, err = json.Marshal(rsp)
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: encode response: %w", domain.ErrServerError, err)
	}
	return body, partial, nil
}
