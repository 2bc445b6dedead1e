package hls

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/m3u8"
	"github.com/jmylchreest/hlsindex/internal/segment"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// streamParams carries what the master playlist says about one stream.
type streamParams struct {
	verbatimURI    string
	codecs         []string
	contentType    codec.ContentType
	language       string
	primary        bool
	name           string
	channelsCount  int
	closedCaptions map[string]string
}

// resolveMediaTag resolves an EXT-X-MEDIA rendition. A nil info means the
// rendition was dropped.
func (p *Parser) resolveMediaTag(ctx context.Context, tag *m3u8.Tag, codecs []string) (*streamInfo, error) {
	uri, err := requiredAttribute(tag, "URI")
	if err != nil {
		return nil, err
	}
	typ, err := requiredAttribute(tag, "TYPE")
	if err != nil {
		return nil, err
	}

	ct := codec.ContentType(strings.ToLower(typ))
	if typ == "SUBTITLES" {
		ct = codec.ContentText
	}
	params := streamParams{
		verbatimURI: uri,
		codecs:      codecs,
		contentType: ct,
		language:    normalizeLanguage(tag.AttributeOr("LANGUAGE", undetermined)),
		primary:     tag.AttributeOr("DEFAULT", "") == "YES" || tag.AttributeOr("AUTOSELECT", "") == "YES",
	}
	params.name, _ = tag.Attribute("NAME")
	if ct == codec.ContentAudio {
		params.channelsCount = channelCount(tag.AttributeOr("CHANNELS", ""))
	}

	info, err := p.streams.resolve(uri, func() (*streamInfo, error) {
		return p.createStreamInfo(ctx, params)
	})
	if err != nil || info == nil {
		return nil, err
	}
	p.streams.bindTag(tag.ID, info)
	return info, nil
}

// resolveVariantStream resolves the media playlist of an EXT-X-STREAM-INF
// tag as a stream of type ct.
func (p *Parser) resolveVariantStream(ctx context.Context, tag *m3u8.Tag, codecs []string, ct codec.ContentType) (*streamInfo, error) {
	uri, err := requiredAttribute(tag, "URI")
	if err != nil {
		return nil, err
	}

	params := streamParams{
		verbatimURI: uri,
		codecs:      codecs,
		contentType: ct,
		language:    undetermined,
	}
	if cc, ok := tag.Attribute("CLOSED-CAPTIONS"); ok && ct == codec.ContentVideo && cc != "NONE" {
		p.mu.Lock()
		params.closedCaptions = p.closedCaptions[cc]
		p.mu.Unlock()
	}

	return p.streams.resolve(uri, func() (*streamInfo, error) {
		return p.createStreamInfo(ctx, params)
	})
}

// channelCount reads the first "/"-separated field of CHANNELS.
func channelCount(v string) int {
	if v == "" {
		return 0
	}
	first, _, _ := strings.Cut(v, "/")
	n, _ := strconv.Atoi(first)
	return n
}

// createStreamInfo fetches and indexes one media playlist. It returns a nil
// info, without error, for AES-128 encrypted playlists.
func (p *Parser) createStreamInfo(ctx context.Context, params streamParams) (*streamInfo, error) {
	absoluteURI := m3u8.ResolveURI(p.masterURI, params.verbatimURI)

	resp, err := p.requestManifest(ctx, absoluteURI)
	if err != nil {
		return nil, err
	}
	absoluteURI = resp.URI

	playlist, err := m3u8.Parse(resp.Data, absoluteURI)
	if err != nil {
		return nil, newError(CategoryManifest, CodePlaylistParseFailed, err, absoluteURI)
	}
	if playlist.Type != m3u8.TypeMedia {
		return nil, manifestError(CodeInvalidPlaylistHierarchy, absoluteURI)
	}

	keys, err := p.parseKeys(playlist)
	if err != nil {
		return nil, err
	}
	if keys.aes128 {
		p.logger.Warn("unsupported HLS encryption; dropping stream",
			slog.String("method", "AES-128"),
			slog.String("uri", absoluteURI))
		p.aesEncrypted.Store(true)
		return nil, nil
	}

	if err := p.determinePresentationType(playlist); err != nil {
		return nil, err
	}

	codecs, err := codec.Guess(params.contentType, params.codecs)
	if err != nil {
		return nil, newError(CategoryManifest, CodeCouldNotGuessCodecs, err, params.codecs)
	}
	mimeType, err := p.guessMimeType(ctx, params.contentType, codecs, playlist)
	if err != nil {
		return nil, err
	}

	initRef, err := initReference(playlist)
	if err != nil {
		return nil, err
	}
	refs, err := p.createSegments(ctx, params.verbatimURI, playlist, mediaSequence(playlist), mimeType, codecs, initRef)
	if err != nil {
		return nil, err
	}

	first, last := refs[0], refs[len(refs)-1]
	index := segment.NewIndex(refs)

	stream := &Stream{
		ID:             p.nextID(),
		OriginalID:     params.name,
		Type:           params.contentType,
		MimeType:       mimeType,
		Codecs:         codecs,
		Language:       params.language,
		Label:          params.name,
		Primary:        params.primary,
		Encrypted:      keys.encrypted,
		KeyID:          keys.keyID,
		DRMInfos:       keys.infos,
		ChannelsCount:  params.channelsCount,
		ClosedCaptions: params.closedCaptions,
		InitSegment:    initRef,
		index:          index,
	}
	if params.contentType == codec.ContentText {
		stream.Kind = KindSubtitle
	}

	return &streamInfo{
		stream:       stream,
		index:        index,
		drmInfos:     keys.infos,
		verbatimURI:  params.verbatimURI,
		absoluteURI:  absoluteURI,
		minTimestamp: first.StartTime,
		maxTimestamp: last.EndTime,
		duration:     last.EndTime - first.StartTime,
	}, nil
}

// keyInfo summarizes the EXT-X-KEY tags of a media playlist.
type keyInfo struct {
	encrypted bool
	aes128    bool
	keyID     string
	infos     []drm.Info
}

func (p *Parser) parseKeys(playlist *m3u8.Playlist) (keyInfo, error) {
	var out keyInfo
	for _, seg := range playlist.Segments {
		for _, tag := range m3u8.FilterByName(seg.Tags, "EXT-X-KEY") {
			method, err := requiredAttribute(tag, "METHOD")
			if err != nil {
				return out, err
			}
			if method == "NONE" {
				continue
			}
			out.encrypted = true
			if method == "AES-128" {
				out.aes128 = true
				return out, nil
			}

			keyFormat, err := requiredAttribute(tag, "KEYFORMAT")
			if err != nil {
				return out, err
			}
			var info *drm.Info
			if parse, ok := p.drm.Lookup(keyFormat); ok {
				if info, err = parse(tag); err != nil {
					return out, p.drmError(err)
				}
			}
			if info == nil {
				p.logger.Warn("unsupported HLS KEYFORMAT", slog.String("keyformat", keyFormat))
				continue
			}
			if len(info.KeyIDs) > 0 {
				out.keyID = info.KeyIDs[0]
			}
			out.infos = append(out.infos, *info)
		}
	}
	if out.encrypted && len(out.infos) == 0 {
		return out, manifestError(CodeKeyFormatsNotSupported)
	}
	return out, nil
}

func (p *Parser) drmError(err error) error {
	var missing *drm.MissingAttributeError
	if errors.As(err, &missing) {
		return newError(CategoryManifest, CodeRequiredAttributeMissing, err, missing.Tag, missing.Attribute)
	}
	return newError(CategoryManifest, CodeKeyFormatsNotSupported, err)
}

// determinePresentationType classifies a media playlist and, for growing
// presentations, tracks the target-duration bounds.
func (p *Parser) determinePresentationType(playlist *m3u8.Playlist) error {
	var playlistType string
	if tag := m3u8.FirstByName(playlist.Tags, "EXT-X-PLAYLIST-TYPE"); tag != nil {
		playlistType = tag.Value
	}
	hasEndList := m3u8.FirstByName(playlist.Tags, "EXT-X-ENDLIST") != nil

	t := timeline.Classify(playlistType, hasEndList)
	p.setPresentationType(t)
	if t == timeline.VOD {
		return nil
	}

	tag, err := requiredTag(playlist.Tags, "EXT-X-TARGETDURATION")
	if err != nil {
		return err
	}
	target, err := strconv.ParseFloat(strings.TrimSpace(tag.Value), 64)
	if err != nil {
		return newError(CategoryManifest, CodePlaylistParseFailed, err, tag.String())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxTargetDuration = max(p.maxTargetDuration, target)
	p.minTargetDuration = min(p.minTargetDuration, target)
	return nil
}

// guessMimeType derives the container MIME type from the first segment's
// extension, falling back to a HEAD request.
func (p *Parser) guessMimeType(ctx context.Context, ct codec.ContentType, codecs string, playlist *m3u8.Playlist) (string, error) {
	if len(playlist.Segments) == 0 {
		return "", manifestError(CodeRequiredTagMissing, "EXTINF")
	}
	firstURI := playlist.Segments[0].AbsoluteURI

	segPath := firstURI
	if u, err := url.Parse(firstURI); err == nil {
		segPath = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(segPath), ".")
	if mime, ok := codec.MimeTypeForExtension(ct, ext); ok {
		return mime, nil
	}
	if ct == codec.ContentText {
		return codec.TextMimeFallback(codecs), nil
	}

	req := fetch.NewRequest(firstURI)
	req.Method = http.MethodHead
	resp, err := p.request(ctx, req)
	if err != nil {
		return "", err
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		return "", manifestError(CodeCouldNotGuessMimeType, ext)
	}
	return codec.EssenceType(contentType), nil
}

func mediaSequence(playlist *m3u8.Playlist) int64 {
	tag := m3u8.FirstByName(playlist.Tags, "EXT-X-MEDIA-SEQUENCE")
	if tag == nil {
		return 0
	}
	n, _ := strconv.ParseInt(strings.TrimSpace(tag.Value), 10, 64)
	return n
}
