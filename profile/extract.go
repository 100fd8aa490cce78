package profile

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/shared"
	"github.com/mixcode/imagecore/source"
)

// Extract opens src and reads its rendering profile.
func Extract(ctx context.Context, src source.Source, log logging.Logger) (*Profile, error) {
	h, err := source.OpenShared(src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := h.Release(); e != nil {
			logging.OrDefault(log).Debug("profile: closing source", logging.Error("err", e))
		}
	}()
	return ExtractShared(ctx, src.Name(), h, log)
}

// ExtractShared reads the rendering profile of a stream already held by a
// shared handle. The handle is not released.
//
// Parsers are tried in turn: first the one selected by the extension of
// name, then the one selected by the header signature. The first profile
// that validates wins. When every parser fails the error matches
// errs.ErrNoProfile and carries each parser's failure.
func ExtractShared(ctx context.Context, name string, h *shared.Handle[source.Stream], log logging.Logger) (*Profile, error) {
	log = logging.OrDefault(log).With(logging.String("source", name))
	sec, err := source.Section(h)
	if err != nil {
		return nil, err
	}

	head := make([]byte, 16)
	n, _ := sec.ReadAt(head, 0)
	candidates := []FileFormat{FormatForName(name), FormatForSignature(head[:n])}

	var merr error
	tried := make(map[string]bool)
	for _, f := range candidates {
		entry, ok := parsers[f]
		if !ok || tried[entry.family] {
			continue
		}
		tried[entry.family] = true
		if err := ctx.Err(); err != nil {
			return nil, errs.Canceled(err)
		}
		if _, err := sec.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		p, err := parseOne(ctx, entry, sec, f, log)
		if err != nil {
			if errs.IsCanceled(err) {
				return nil, errs.Canceled(err)
			}
			log.Debug("profile: parser failed", logging.String("format", f.String()), logging.Error("err", err))
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", entry.family, err))
			continue
		}
		return p, nil
	}

	if merr == nil {
		return nil, fmt.Errorf("profile: %s: unrecognized format: %w", name, errs.ErrNoProfile)
	}
	return nil, fmt.Errorf("profile: %s: %w: %w", name, errs.ErrNoProfile, merr)
}

func parseOne(ctx context.Context, entry parserEntry, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, error) {
	p, icc, err := entry.parse(ctx, in, f, log)
	if err != nil {
		return nil, err
	}
	if len(icc) > 0 {
		cs, err := colorspace.ParseICC(icc)
		if err != nil {
			// unusable profiles leave the color space unspecified
			log.Info("profile: ignoring embedded ICC profile", logging.Error("err", err))
		} else {
			p.ColorSpace = colorspace.DefaultRegistry().Intern(cs)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
