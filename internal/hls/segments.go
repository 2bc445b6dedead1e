package hls

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/m3u8"
	"github.com/jmylchreest/hlsindex/internal/probe"
	"github.com/jmylchreest/hlsindex/internal/segment"
)

const defaultPartialSegmentSize = 2048

// createSegments builds the references of a media playlist. Only the first
// segment's start time is looked up; every later segment starts where the
// previous one ended.
func (p *Parser) createSegments(
	ctx context.Context,
	verbatimURI string,
	playlist *m3u8.Playlist,
	startPosition int64,
	mimeType, codecs string,
	initRef *segment.InitReference,
) ([]segment.Reference, error) {
	if len(playlist.Segments) == 0 {
		return nil, manifestError(CodeRequiredTagMissing, "EXTINF")
	}

	first, err := segmentReference(playlist.Segments[0], nil, startPosition, 0)
	if err != nil {
		return nil, err
	}
	start, err := p.startTime(ctx, verbatimURI, initRef, first, mimeType, codecs)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("first segment start",
		slog.String("uri", playlist.Segments[0].VerbatimURI),
		slog.Float64("start", start))

	refs := make([]segment.Reference, 0, len(playlist.Segments))
	for i, seg := range playlist.Segments {
		var prev *segment.Reference
		if i > 0 {
			prev = &refs[i-1]
			start = prev.EndTime
		}
		ref, err := segmentReference(seg, prev, startPosition+int64(i), start)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	p.notifySegments(refs)
	return refs, nil
}

// segmentReference converts one playlist entry. EXT-X-BYTERANGE without an
// offset continues from the previous segment's range.
func segmentReference(seg *m3u8.Segment, prev *segment.Reference, position int64, start float64) (segment.Reference, error) {
	extinf, err := requiredTag(seg.Tags, "EXTINF")
	if err != nil {
		return segment.Reference{}, err
	}
	value, _, _ := strings.Cut(extinf.Value, ",")
	duration, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return segment.Reference{}, newError(CategoryManifest, CodePlaylistParseFailed, err, extinf.String())
	}

	startByte, endByte := int64(0), int64(-1)
	if br := m3u8.FirstByName(seg.Tags, "EXT-X-BYTERANGE"); br != nil {
		length, offset, err := m3u8.ParseByteRange(br.Value)
		if err != nil {
			return segment.Reference{}, newError(CategoryManifest, CodePlaylistParseFailed, err, br.String())
		}
		switch {
		case offset != nil:
			startByte = int64(*offset)
		case prev != nil:
			startByte = prev.EndByte + 1
		}
		endByte = startByte + int64(length) - 1
	}

	return segment.NewReference(position, start, start+duration,
		segment.StaticURIs(seg.AbsoluteURI), startByte, endByte), nil
}

// initReference reads the playlist's EXT-X-MAP. More than one is an error.
func initReference(playlist *m3u8.Playlist) (*segment.InitReference, error) {
	maps := m3u8.FilterByName(playlist.Tags, "EXT-X-MAP")
	switch len(maps) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, manifestError(CodeMultipleMediaInitSections)
	}

	uri, err := requiredAttribute(maps[0], "URI")
	if err != nil {
		return nil, err
	}
	absolute := m3u8.ResolveURI(playlist.AbsoluteURI, uri)

	startByte, endByte := int64(0), int64(-1)
	if br, ok := maps[0].Attribute("BYTERANGE"); ok {
		length, offset, err := m3u8.ParseByteRange(br)
		if err != nil {
			return nil, newError(CategoryManifest, CodePlaylistParseFailed, err, br)
		}
		if offset != nil {
			startByte = int64(*offset)
		}
		endByte = startByte + int64(length) - 1
	}
	return segment.NewInitReference(segment.StaticURIs(absolute), startByte, endByte), nil
}

// startTime finds the start of ref. During an update the existing index is
// consulted first; a probed time is then moved by the stream's offset so it
// lands on the presentation timeline.
func (p *Parser) startTime(
	ctx context.Context,
	verbatimURI string,
	initRef *segment.InitReference,
	ref segment.Reference,
	mimeType, codecs string,
) (float64, error) {
	var offset float64
	if p.Manifest() != nil {
		if info, ok := p.streams.get(verbatimURI); ok {
			if existing, ok := info.index.Get(ref.Position); ok {
				return existing.StartTime, nil
			}
			p.logger.Debug("segment start not found in previous manifest",
				slog.String("uri", verbatimURI),
				slog.Int64("position", ref.Position))
			offset = info.offset
		}
	}

	start, err := p.probeStartTime(ctx, initRef, ref, mimeType, codecs)
	if err != nil {
		return 0, err
	}
	return start + offset, nil
}

func (p *Parser) probeStartTime(
	ctx context.Context,
	initRef *segment.InitReference,
	ref segment.Reference,
	mimeType, codecs string,
) (float64, error) {
	var init, media []byte

	switch probe.KindFor(mimeType) {
	case probe.KindZero:
		return 0, nil
	case probe.KindMP4:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			resp, err := p.fetchPartial(gctx, ref.URIs(), ref.StartByte, ref.EndByte)
			if err == nil {
				media = resp.Data
			}
			return err
		})
		if initRef != nil {
			g.Go(func() error {
				resp, err := p.fetchPartial(gctx, initRef.URIs(), initRef.StartByte, initRef.EndByte)
				if err == nil {
					init = resp.Data
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
	case probe.KindTS, probe.KindText:
		resp, err := p.fetchPartial(ctx, ref.URIs(), ref.StartByte, ref.EndByte)
		if err != nil {
			return 0, err
		}
		media = resp.Data
	default:
		return 0, manifestError(CodeCouldNotParseSegmentStartTime, mimeType)
	}

	if err := ctx.Err(); err != nil {
		return 0, abortedError(err)
	}
	start, err := p.prober.StartTime(mimeType, codecs, init, media)
	if err != nil {
		return 0, newError(CategoryManifest, CodeCouldNotParseSegmentStartTime, err, mimeType)
	}
	return start, nil
}

// fetchPartial requests the leading bytes of a resource and falls back to
// the whole range when the origin refuses the partial request. Aborts are
// returned as-is.
func (p *Parser) fetchPartial(ctx context.Context, uris []string, startByte, endByte int64) (*fetch.Response, error) {
	size := p.cfg.PartialSegmentSize
	if size <= 0 {
		size = defaultPartialSegmentSize
	}
	partialEnd := startByte + size - 1
	if endByte >= 0 && endByte < partialEnd {
		partialEnd = endByte
	}

	resp, err := p.request(ctx, fetch.NewRangeRequest(uris, startByte, partialEnd))
	if err == nil {
		return resp, nil
	}
	if IsAborted(err) {
		return nil, err
	}

	p.logger.Warn("unable to fetch a partial segment; falling back to a full segment request",
		slog.Any("uris", uris),
		slog.String("error", err.Error()))
	return p.request(ctx, fetch.NewRangeRequest(uris, startByte, endByte))
}
