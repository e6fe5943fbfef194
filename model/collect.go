package model

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResponse is returned when a model closes its channels without a final
// response or error.
var ErrNoResponse = errors.New("model returned no response")

// Collect drains the channels returned by Model.Generate. Partial text chunks
// are passed to onChunk (if non-nil) in arrival order. The final response is
// returned; if the provider sent only partial chunks the assembled text is
// used.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error, onChunk func(string)) (Response, error) {
	var (
		final    *Response
		assembly strings.Builder
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				assembly.WriteString(r.Text)
				if onChunk != nil && r.Text != "" {
					onChunk(r.Text)
				}
				continue
			}
			rr := r
			final = &rr
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if final == nil {
		if assembly.Len() == 0 {
			return Response{}, ErrNoResponse
		}
		return Response{Text: assembly.String(), FinishReason: "stop"}, nil
	}

	if final.Text == "" && assembly.Len() > 0 && len(final.ToolCalls) == 0 {
		final.Text = assembly.String()
	}

	return *final, nil
}
