// videocursor/edit/operation.go
package edit

// Kind names one of the supported edit operations.
type Kind string

const (
	KindTrim            Kind = "trim"
	KindSplice          Kind = "splice"
	KindEffects         Kind = "effects"
	KindExtractAudio    Kind = "extract_audio"
	KindBackgroundAudio Kind = "background_audio"
	KindSoundEffect     Kind = "sound_effect"
	KindSubtitles       Kind = "subtitles"
	KindConvert         Kind = "convert"
	KindGif             Kind = "gif"
)

// Operation is one validated edit. The set of implementations is closed:
// the unexported methods keep outside packages from adding variants.
type Operation interface {
	Kind() Kind
	normalize()
	check() error
}

// Trim keeps the section between Start and End (seconds).
type Trim struct {
	Start float64 `json:"start_time" mapstructure:"start_time"`
	End   float64 `json:"end_time" mapstructure:"end_time"`
}

func (o *Trim) Kind() Kind { return KindTrim }

func (o *Trim) normalize() {}

func (o *Trim) check() error {
	if err := checkSpan(o.Start, o.End); err != nil {
		return err
	}
	return nil
}

// Splice removes the section between Start and End (seconds) and
// joins what remains.
type Splice struct {
	Start float64 `json:"remove_start_time" mapstructure:"remove_start_time"`
	End   float64 `json:"remove_end_time" mapstructure:"remove_end_time"`
}

func (o *Splice) Kind() Kind { return KindSplice }

func (o *Splice) normalize() {}

func (o *Splice) check() error {
	return checkSpan(o.Start, o.End)
}

// Filter is an artistic color filter applied by Effects.
type Filter string

const (
	FilterNone          Filter = "none"
	FilterBlackAndWhite Filter = "black & white"
	FilterSepia         Filter = "sepia"
	FilterVintage       Filter = "vintage"
	FilterNegative      Filter = "negative"
	FilterEmboss        Filter = "emboss"
	FilterEdgeDetection Filter = "edge detection"
)

var filters = map[Filter]bool{
	FilterNone:          true,
	FilterBlackAndWhite: true,
	FilterSepia:         true,
	FilterVintage:       true,
	FilterNegative:      true,
	FilterEmboss:        true,
	FilterEdgeDetection: true,
}

// Effects is a stack of visual adjustments. Zero values are neutral:
// brightness 0, contrast and saturation 1, no blur, no rotation.
type Effects struct {
	Blur       float64  `json:"blur" mapstructure:"blur"`
	Brightness float64  `json:"brightness" mapstructure:"brightness"`
	Contrast   *float64 `json:"contrast" mapstructure:"contrast"`
	Saturation *float64 `json:"saturation" mapstructure:"saturation"`
	Filter     Filter   `json:"artistic_filter" mapstructure:"artistic_filter"`
	Zoom       bool     `json:"zoom" mapstructure:"zoom"`
	Rotation   float64  `json:"rotation" mapstructure:"rotation"`
	FlipH      bool     `json:"horizontal_flip" mapstructure:"horizontal_flip"`
	FlipV      bool     `json:"vertical_flip" mapstructure:"vertical_flip"`
}

func (o *Effects) Kind() Kind { return KindEffects }

func (o *Effects) normalize() {
	if o.Contrast == nil {
		o.Contrast = ptr(1.0)
	}
	if o.Saturation == nil {
		o.Saturation = ptr(1.0)
	}
	if o.Filter == "" {
		o.Filter = FilterNone
	}
}

func (o *Effects) check() error {
	if err := checkRange("blur", o.Blur, 0, 10); err != nil {
		return err
	}
	if err := checkRange("brightness", o.Brightness, -1, 1); err != nil {
		return err
	}
	if err := checkRange("contrast", *o.Contrast, 0, 2); err != nil {
		return err
	}
	if err := checkRange("saturation", *o.Saturation, 0, 2); err != nil {
		return err
	}
	if err := checkRange("rotation", o.Rotation, -360, 360); err != nil {
		return err
	}
	if !filters[o.Filter] {
		return &ValidationError{Field: "artistic_filter", Reason: "unknown filter " + string(o.Filter)}
	}
	return nil
}

// Neutral reports whether applying the stack would leave the video unchanged.
func (o *Effects) Neutral() bool {
	return o.Blur == 0 && o.Brightness == 0 &&
		(o.Contrast == nil || *o.Contrast == 1) &&
		(o.Saturation == nil || *o.Saturation == 1) &&
		(o.Filter == "" || o.Filter == FilterNone) &&
		!o.Zoom && o.Rotation == 0 && !o.FlipH && !o.FlipV
}

// ExtractAudio pulls the audio track out of a video.
type ExtractAudio struct {
	Codec   string `json:"audio_codec" mapstructure:"audio_codec"`
	Bitrate string `json:"bitrate" mapstructure:"bitrate"`
}

var audioCodecs = map[string]bool{
	"mp3": true, "aac": true, "wav": true, "flac": true, "ogg": true,
}

func (o *ExtractAudio) Kind() Kind { return KindExtractAudio }

func (o *ExtractAudio) normalize() {
	if o.Codec == "" {
		o.Codec = "mp3"
	}
	if o.Bitrate == "" {
		o.Bitrate = "192k"
	}
}

func (o *ExtractAudio) check() error {
	if !audioCodecs[o.Codec] {
		return &ValidationError{Field: "audio_codec", Reason: "unsupported codec " + o.Codec}
	}
	if !bitratePattern.MatchString(o.Bitrate) {
		return &ValidationError{Field: "bitrate", Reason: "expected a value like 192k"}
	}
	return nil
}

// BackgroundAudio lays a second audio track under (or over) the video's own.
type BackgroundAudio struct {
	AudioAssetID string   `json:"audio_file_id" mapstructure:"audio_file_id"`
	Volume       *float64 `json:"volume" mapstructure:"volume"`
	Mix          *bool    `json:"mix" mapstructure:"mix"`
}

func (o *BackgroundAudio) Kind() Kind { return KindBackgroundAudio }

func (o *BackgroundAudio) normalize() {
	if o.Volume == nil {
		o.Volume = ptr(0.5)
	}
	if o.Mix == nil {
		t := true
		o.Mix = &t
	}
}

func (o *BackgroundAudio) check() error {
	if o.AudioAssetID == "" {
		return &ValidationError{Field: "audio_file_id", Reason: "required"}
	}
	return checkRange("volume", *o.Volume, 0, 2)
}

// SoundEffect inserts an audio asset at a point in the timeline.
// Which effect file to use is always an explicit asset reference.
type SoundEffect struct {
	AudioAssetID string   `json:"audio_file_id" mapstructure:"audio_file_id"`
	Start        float64  `json:"start_time" mapstructure:"start_time"`
	Duration     *float64 `json:"duration" mapstructure:"duration"`
	Volume       *float64 `json:"volume" mapstructure:"volume"`
}

func (o *SoundEffect) Kind() Kind { return KindSoundEffect }

func (o *SoundEffect) normalize() {
	if o.Volume == nil {
		o.Volume = ptr(1.0)
	}
}

func (o *SoundEffect) check() error {
	if o.AudioAssetID == "" {
		return &ValidationError{Field: "audio_file_id", Reason: "required"}
	}
	if o.Start < 0 {
		return &ValidationError{Field: "start_time", Reason: "must not be negative"}
	}
	if o.Duration != nil && *o.Duration <= 0 {
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	return checkRange("volume", *o.Volume, 0, 2)
}

// Subtitles attaches a subtitle track, either muxed in softly or burned
// into the frames.
type Subtitles struct {
	SubtitleAssetID string `json:"subtitle_file_id" mapstructure:"subtitle_file_id"`
	Burn            bool   `json:"burn" mapstructure:"burn"`
	AutoTranscribe  bool   `json:"auto_transcribe" mapstructure:"auto_transcribe"`
	Language        string `json:"language" mapstructure:"language"`
}

func (o *Subtitles) Kind() Kind { return KindSubtitles }

func (o *Subtitles) normalize() {
	if o.Language == "" {
		o.Language = "en-US"
	}
}

func (o *Subtitles) check() error {
	if !o.AutoTranscribe && o.SubtitleAssetID == "" {
		return &ValidationError{Field: "subtitle_file_id", Reason: "required when not auto-transcribing"}
	}
	return nil
}

// Convert re-encodes the video with the given codecs and quality (CRF).
type Convert struct {
	VideoCodec string `json:"video_codec" mapstructure:"video_codec"`
	AudioCodec string `json:"audio_codec" mapstructure:"audio_codec"`
	Quality    *int   `json:"quality" mapstructure:"quality"`
}

var videoCodecs = map[string]bool{
	"libx264": true, "libx265": true, "libvpx-vp9": true, "copy": true,
}

var convertAudioCodecs = map[string]bool{
	"aac": true, "mp3": true, "libopus": true, "copy": true,
}

func (o *Convert) Kind() Kind { return KindConvert }

func (o *Convert) normalize() {
	if o.VideoCodec == "" {
		o.VideoCodec = "libx264"
	}
	if o.AudioCodec == "" {
		o.AudioCodec = "aac"
	}
	if o.Quality == nil {
		q := 23
		o.Quality = &q
	}
}

func (o *Convert) check() error {
	if !videoCodecs[o.VideoCodec] {
		return &ValidationError{Field: "video_codec", Reason: "unsupported codec " + o.VideoCodec}
	}
	if !convertAudioCodecs[o.AudioCodec] {
		return &ValidationError{Field: "audio_codec", Reason: "unsupported codec " + o.AudioCodec}
	}
	if *o.Quality < 0 || *o.Quality > 51 {
		return &ValidationError{Field: "quality", Reason: "CRF must be between 0 and 51"}
	}
	return nil
}

// Gif exports a section of the video as an animated GIF.
type Gif struct {
	Start    float64  `json:"start_time" mapstructure:"start_time"`
	Duration *float64 `json:"duration" mapstructure:"duration"`
	Width    int      `json:"width" mapstructure:"width"`
	Height   int      `json:"height" mapstructure:"height"`
}

func (o *Gif) Kind() Kind { return KindGif }

func (o *Gif) normalize() {
	if o.Duration == nil {
		d := 10.0
		o.Duration = &d
	}
	if o.Width == 0 {
		o.Width = 320
	}
	if o.Height == 0 {
		o.Height = 240
	}
}

func (o *Gif) check() error {
	if o.Start < 0 {
		return &ValidationError{Field: "start_time", Reason: "must not be negative"}
	}
	if *o.Duration <= 0 {
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	if o.Width < 16 || o.Width > 1920 {
		return &ValidationError{Field: "width", Reason: "must be between 16 and 1920"}
	}
	if o.Height < 16 || o.Height > 1920 {
		return &ValidationError{Field: "height", Reason: "must be between 16 and 1920"}
	}
	return nil
}

func ptr(f float64) *float64 { return &f }
