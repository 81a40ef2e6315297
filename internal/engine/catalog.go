package engine

// kind is the role an element plays when a chain is negotiated.
type kind int

const (
	kindSource kind = iota
	kindFilter
	kindDemuxer
	kindParser
	kindEncoder
	kindPayloader
)

// Media kinds and codecs flowing between elements. codecAny is produced by
// elements whose output is only known once data flows (file sources, demuxers).
const (
	mediaVideo = "video"
	mediaAudio = "audio"

	codecRaw   = "raw"
	codecAny   = "any"
	codecH264  = "h264"
	codecH265  = "h265"
	codecVP8   = "vp8"
	codecVP9   = "vp9"
	codecMJPEG = "mjpeg"
	codecPCMU  = "pcmu"
	codecPCMA  = "pcma"
)

// element describes an element factory. media is empty for elements that
// accept and produce any media kind.
type element struct {
	kind  kind
	media string
	codec string
	// required lists properties the element cannot start without.
	required []string
}

var catalog = map[string]element{
	"videotestsrc": {kind: kindSource, media: mediaVideo, codec: codecRaw},
	"audiotestsrc": {kind: kindSource, media: mediaAudio, codec: codecRaw},
	"v4l2src":      {kind: kindSource, media: mediaVideo, codec: codecRaw},
	"filesrc":      {kind: kindSource, codec: codecAny, required: []string{"location"}},

	"videoconvert":  {kind: kindFilter, media: mediaVideo, codec: codecRaw},
	"videoscale":    {kind: kindFilter, media: mediaVideo, codec: codecRaw},
	"videorate":     {kind: kindFilter, media: mediaVideo, codec: codecRaw},
	"audioconvert":  {kind: kindFilter, media: mediaAudio, codec: codecRaw},
	"audioresample": {kind: kindFilter, media: mediaAudio, codec: codecRaw},
	"queue":         {kind: kindFilter},
	"identity":      {kind: kindFilter},

	"qtdemux":       {kind: kindDemuxer, codec: codecAny},
	"matroskademux": {kind: kindDemuxer, codec: codecAny},
	"tsdemux":       {kind: kindDemuxer, codec: codecAny},

	"h264parse": {kind: kindParser, media: mediaVideo, codec: codecH264},
	"h265parse": {kind: kindParser, media: mediaVideo, codec: codecH265},
	"jpegparse": {kind: kindParser, media: mediaVideo, codec: codecMJPEG},

	"x264enc":     {kind: kindEncoder, media: mediaVideo, codec: codecH264},
	"openh264enc": {kind: kindEncoder, media: mediaVideo, codec: codecH264},
	"x265enc":     {kind: kindEncoder, media: mediaVideo, codec: codecH265},
	"vp8enc":      {kind: kindEncoder, media: mediaVideo, codec: codecVP8},
	"vp9enc":      {kind: kindEncoder, media: mediaVideo, codec: codecVP9},
	"jpegenc":     {kind: kindEncoder, media: mediaVideo, codec: codecMJPEG},
	"mulawenc":    {kind: kindEncoder, media: mediaAudio, codec: codecPCMU},
	"alawenc":     {kind: kindEncoder, media: mediaAudio, codec: codecPCMA},

	"rtph264pay":  {kind: kindPayloader, media: mediaVideo, codec: codecH264},
	"rtph265pay":  {kind: kindPayloader, media: mediaVideo, codec: codecH265},
	"rtpvp8pay":   {kind: kindPayloader, media: mediaVideo, codec: codecVP8},
	"rtpvp9pay":   {kind: kindPayloader, media: mediaVideo, codec: codecVP9},
	"rtpjpegpay":  {kind: kindPayloader, media: mediaVideo, codec: codecMJPEG},
	"rtppcmupay":  {kind: kindPayloader, media: mediaAudio, codec: codecPCMU},
	"rtppcmapay":  {kind: kindPayloader, media: mediaAudio, codec: codecPCMA},
}

// staticPayloadType returns the RTP/AVP static payload type of codec, if any.
func staticPayloadType(codec string) (uint8, bool) {
	switch codec {
	case codecPCMU:
		return 0, true
	case codecPCMA:
		return 8, true
	case codecMJPEG:
		return 26, true
	}
	return 0, false
}

// capsCodec maps a caps media type to the media kind and codec it describes.
func capsCodec(mediaType string) (media, codec string, ok bool) {
	switch mediaType {
	case "video/x-raw":
		return mediaVideo, codecRaw, true
	case "audio/x-raw":
		return mediaAudio, codecRaw, true
	case "video/x-h264":
		return mediaVideo, codecH264, true
	case "video/x-h265":
		return mediaVideo, codecH265, true
	case "video/x-vp8":
		return mediaVideo, codecVP8, true
	case "video/x-vp9":
		return mediaVideo, codecVP9, true
	case "image/jpeg":
		return mediaVideo, codecMJPEG, true
	case "audio/x-mulaw":
		return mediaAudio, codecPCMU, true
	case "audio/x-alaw":
		return mediaAudio, codecPCMA, true
	}
	return "", "", false
}
