package hls

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/m3u8"
)

// variantPlan is an EXT-X-STREAM-INF tag with its attributes decoded and
// its codec list settled, ready for stream resolution.
type variantPlan struct {
	tag           *m3u8.Tag
	bandwidth     int64
	width         int
	height        int
	frameRate     float64
	hasVideoAttrs bool
	audioGroup    string
	videoGroup    string
	mediaTags     []*m3u8.Tag
	codecs        []string
}

// variantStreams is the outcome of resolving one variantPlan.
type variantStreams struct {
	audio []*streamInfo
	video []*streamInfo
	// skip is set when the variant's own stream was dropped (AES-128).
	skip bool
}

// buildPeriod resolves text streams first, then every variant tag. Stream
// resolution runs concurrently; variant assembly runs in tag order so IDs
// and dedup are deterministic.
func (p *Parser) buildPeriod(ctx context.Context, master *m3u8.Playlist) (*Period, error) {
	mediaTags := m3u8.FilterByName(master.Tags, "EXT-X-MEDIA")

	var textTags []*m3u8.Tag
	for _, tag := range mediaTags {
		typ, err := requiredAttribute(tag, "TYPE")
		if err != nil {
			return nil, err
		}
		if typ == "SUBTITLES" {
			textTags = append(textTags, tag)
		}
	}

	if err := p.parseClosedCaptions(mediaTags); err != nil {
		return nil, err
	}

	textInfos := make([]*streamInfo, len(textTags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range textTags {
		g.Go(func() error {
			info, err := p.resolveMediaTag(gctx, tag, nil)
			textInfos[i] = info
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var textStreams []*Stream
	for _, info := range textInfos {
		if info != nil {
			textStreams = append(textStreams, info.stream)
		}
	}

	variantTags := m3u8.FilterByName(master.Tags, "EXT-X-STREAM-INF")
	plans := make([]*variantPlan, 0, len(variantTags))
	for _, tag := range variantTags {
		plan, err := p.planVariant(tag, master.Tags)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	results := make([]*variantStreams, len(plans))
	g, gctx = errgroup.WithContext(ctx)
	for i, plan := range plans {
		g.Go(func() error {
			res, err := p.resolveVariant(gctx, plan)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	period := &Period{TextStreams: textStreams}
	for i, plan := range plans {
		if results[i].skip {
			continue
		}
		period.Variants = append(period.Variants, p.createVariants(plan, results[i])...)
	}
	return period, nil
}

// parseClosedCaptions records CLOSED-CAPTIONS renditions by group ID.
func (p *Parser) parseClosedCaptions(mediaTags []*m3u8.Tag) error {
	for _, tag := range mediaTags {
		if typ, _ := tag.Attribute("TYPE"); typ != "CLOSED-CAPTIONS" {
			continue
		}
		groupID, err := requiredAttribute(tag, "GROUP-ID")
		if err != nil {
			return err
		}
		instreamID, err := requiredAttribute(tag, "INSTREAM-ID")
		if err != nil {
			return err
		}
		lang := normalizeLanguage(tag.AttributeOr("LANGUAGE", undetermined))

		p.mu.Lock()
		if p.closedCaptions[groupID] == nil {
			p.closedCaptions[groupID] = make(map[string]string)
		}
		p.closedCaptions[groupID][instreamID] = lang
		p.mu.Unlock()
	}
	return nil
}

func (p *Parser) planVariant(tag *m3u8.Tag, masterTags []*m3u8.Tag) (*variantPlan, error) {
	bw, err := requiredAttribute(tag, "BANDWIDTH")
	if err != nil {
		return nil, err
	}
	bandwidth, _ := strconv.ParseInt(bw, 10, 64)

	plan := &variantPlan{tag: tag, bandwidth: bandwidth}
	if res, ok := tag.Attribute("RESOLUTION"); ok {
		plan.hasVideoAttrs = true
		w, h, _ := strings.Cut(res, "x")
		plan.width, _ = strconv.Atoi(w)
		plan.height, _ = strconv.Atoi(h)
	}
	if fr, ok := tag.Attribute("FRAME-RATE"); ok {
		plan.hasVideoAttrs = true
		plan.frameRate, _ = strconv.ParseFloat(fr, 64)
	}
	plan.audioGroup, _ = tag.Attribute("AUDIO")
	plan.videoGroup, _ = tag.Attribute("VIDEO")
	if plan.audioGroup != "" && plan.videoGroup != "" {
		p.logger.Warn("variant references both AUDIO and VIDEO groups; using AUDIO",
			slog.String("tag", tag.String()))
	}

	plan.mediaTags = mediaTagsFor(masterTags, plan.audioGroup, plan.videoGroup)
	plan.codecs = p.variantCodecs(tag, masterTags)
	return plan, nil
}

// mediaTagsFor returns the EXT-X-MEDIA tags resolved alongside a variant:
// SUBTITLES always, other types only when they carry a URI, narrowed to the
// variant's AUDIO group or else its VIDEO group.
func mediaTagsFor(tags []*m3u8.Tag, audioGroup, videoGroup string) []*m3u8.Tag {
	var out []*m3u8.Tag
	for _, tag := range m3u8.FilterByName(tags, "EXT-X-MEDIA") {
		typ, _ := tag.Attribute("TYPE")
		uri, _ := tag.Attribute("URI")
		if typ != "SUBTITLES" && uri == "" {
			continue
		}
		out = append(out, tag)
	}
	switch {
	case audioGroup != "":
		return findMediaTags(out, "AUDIO", audioGroup)
	case videoGroup != "":
		return findMediaTags(out, "VIDEO", videoGroup)
	}
	return out
}

func findMediaTags(tags []*m3u8.Tag, typ, groupID string) []*m3u8.Tag {
	var out []*m3u8.Tag
	for _, tag := range tags {
		t, _ := tag.Attribute("TYPE")
		g, _ := tag.Attribute("GROUP-ID")
		if t == typ && g == groupID {
			out = append(out, tag)
		}
	}
	return out
}

// variantCodecs splits the CODECS attribute (or the default pair) and moves
// a text codec onto the variant's SUBTITLES stream so it does not look like
// a multiplexed audio/video entry.
func (p *Parser) variantCodecs(tag *m3u8.Tag, masterTags []*m3u8.Tag) []string {
	defaults := p.cfg.DefaultCodecs
	if defaults == "" {
		defaults = codec.DefaultCodecs
	}
	raw := codec.Split(tag.AttributeOr("CODECS", defaults))
	codecs := codec.FilterDuplicates(raw)
	if len(codecs) < len(raw) {
		p.logger.Debug("ignoring duplicate codecs", slog.String("codecs", strings.Join(raw, ",")))
	}

	textCodec, _ := codec.GuessSafe(codec.ContentText, codecs)
	if textCodec == "" {
		return codecs
	}
	if group, ok := tag.Attribute("SUBTITLES"); ok {
		textTags := findMediaTags(m3u8.FilterByName(masterTags, "EXT-X-MEDIA"), "SUBTITLES", group)
		if len(textTags) > 0 {
			if info, ok := p.streams.byTag(textTags[0].ID); ok {
				info.stream.Codecs = textCodec
			}
		}
	}
	return codec.Remove(codecs, textCodec)
}

// resolveVariant resolves a variant's renditions and its own playlist and
// decides the variant stream's content type.
func (p *Parser) resolveVariant(ctx context.Context, plan *variantPlan) (*variantStreams, error) {
	infos := make([]*streamInfo, len(plan.mediaTags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range plan.mediaTags {
		g.Go(func() error {
			info, err := p.resolveMediaTag(gctx, tag, plan.codecs)
			infos[i] = info
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &variantStreams{}
	var resolved []*streamInfo
	for _, info := range infos {
		if info != nil {
			resolved = append(resolved, info)
		}
	}
	switch {
	case plan.audioGroup != "":
		res.audio = resolved
	case plan.videoGroup != "":
		res.video = resolved
	}

	codecs := plan.codecs
	var ct codec.ContentType
	ignore := false
	switch {
	case len(res.audio) == 0 && len(res.video) == 0:
		if len(codecs) == 1 {
			_, isVideo := codec.GuessSafe(codec.ContentVideo, codecs)
			if plan.hasVideoAttrs || isVideo {
				p.logger.Debug("guessing video-only", slog.String("tag", plan.tag.String()))
				ct = codec.ContentVideo
			} else {
				p.logger.Debug("guessing audio-only", slog.String("tag", plan.tag.String()))
				ct = codec.ContentAudio
			}
		} else {
			p.logger.Debug("guessing multiplexed audio+video", slog.String("tag", plan.tag.String()))
			ct = codec.ContentVideo
			codecs = []string{strings.Join(codecs, ",")}
		}
	case len(res.audio) > 0:
		uri, _ := plan.tag.Attribute("URI")
		if p.cfg.FoldAudioOnlyVariants && uri == res.audio[0].verbatimURI {
			p.logger.Debug("variant duplicates its audio rendition; folding into audio",
				slog.String("uri", uri))
			ct = codec.ContentAudio
			ignore = true
		} else {
			ct = codec.ContentVideo
		}
	default:
		ct = codec.ContentAudio
	}

	if ignore {
		return res, nil
	}

	info, err := p.resolveVariantStream(ctx, plan.tag, codecs, ct)
	if err != nil {
		return nil, err
	}
	if info == nil {
		res.skip = true
		return res, nil
	}
	if info.stream.Type == codec.ContentAudio {
		res.audio = []*streamInfo{info}
	} else {
		res.video = []*streamInfo{info}
	}
	return res, nil
}

// createVariants pairs every audio stream with every video stream.
func (p *Parser) createVariants(plan *variantPlan, res *variantStreams) []*Variant {
	for _, info := range res.video {
		info.stream.Codecs = codec.FilterLegacy(info.stream.Codecs)
		info.stream.Width = plan.width
		info.stream.Height = plan.height
		info.stream.FrameRate = plan.frameRate
	}
	for _, info := range res.audio {
		info.stream.Codecs = codec.FilterLegacy(info.stream.Codecs)
	}

	audio, video := res.audio, res.video
	if len(audio) == 0 {
		audio = []*streamInfo{nil}
	}
	if len(video) == 0 {
		video = []*streamInfo{nil}
	}

	var variants []*Variant
	for _, a := range audio {
		for _, v := range video {
			key := variantKey(v, a)

			var drmInfos []drm.Info
			switch {
			case a != nil && v != nil:
				if !drm.AreCompatible(a.drmInfos, v.drmInfos) {
					p.logger.Warn("incompatible DRM info in variant; skipping", slog.String("variant", key))
					continue
				}
				drmInfos = drm.CommonInfos(a.drmInfos, v.drmInfos)
			case a != nil:
				drmInfos = a.drmInfos
			case v != nil:
				drmInfos = v.drmInfos
			}

			if _, dup := p.variantKeys[key]; dup {
				p.logger.Debug("skipping variant that only differs in text streams", slog.String("variant", key))
				continue
			}
			p.variantKeys[key] = struct{}{}
			variants = append(variants, newVariant(p.nextID(), a, v, plan.bandwidth, drmInfos))
		}
	}
	return variants
}

func variantKey(video, audio *streamInfo) string {
	var v, a string
	if video != nil {
		v = video.verbatimURI
	}
	if audio != nil {
		a = audio.verbatimURI
	}
	return v + " - " + a
}

func newVariant(id int64, audio, video *streamInfo, bandwidth int64, drmInfos []drm.Info) *Variant {
	variant := &Variant{
		ID:        id,
		Language:  undetermined,
		Bandwidth: bandwidth,
		DRMInfos:  drmInfos,
	}
	if audio != nil {
		variant.Audio = audio.stream
		variant.Language = audio.stream.Language
		variant.Primary = audio.stream.Primary
	}
	if video != nil {
		variant.Video = video.stream
		variant.Primary = variant.Primary || video.stream.Primary
	}
	return variant
}

// requiredAttribute returns the named attribute or
// HLS_REQUIRED_ATTRIBUTE_MISSING.
func requiredAttribute(tag *m3u8.Tag, name string) (string, error) {
	v, ok := tag.Attribute(name)
	if !ok {
		return "", manifestError(CodeRequiredAttributeMissing, tag.Name, name)
	}
	return v, nil
}

// requiredTag returns the first tag called name or HLS_REQUIRED_TAG_MISSING.
func requiredTag(tags []*m3u8.Tag, name string) (*m3u8.Tag, error) {
	tag := m3u8.FirstByName(tags, name)
	if tag == nil {
		return nil, manifestError(CodeRequiredTagMissing, name)
	}
	return tag, nil
}
