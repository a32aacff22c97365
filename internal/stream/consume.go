package stream

import (
	"context"
	"errors"
	"io"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
)

const readSize = 4096

// Consume reads body through dec, calling fn for each delta, until the
// sentinel, EOF, an error from fn, or ctx cancellation. The body is always
// closed; on cancellation it is closed immediately so a blocked read returns.
func Consume(ctx context.Context, body io.ReadCloser, dec *Decoder, fn func(Delta) error) error {
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()
	defer body.Close()

	emit := func(deltas []Delta) error {
		for _, d := range deltas {
			if err := fn(d); err != nil {
				return err
			}
		}
		return nil
	}

	buf := make([]byte, readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := emit(dec.Feed(buf[:n])); ferr != nil {
				return ferr
			}
			if dec.Done() {
				return nil
			}
		}
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "message stream cancelled")
		case errors.Is(err, io.EOF):
			return emit(dec.Finish())
		default:
			return apperrors.Wrap(err, apperrors.TransportFailure, "read message stream")
		}
	}
}
