// videocursor/ffmpeg/args.go
// Package ffmpeg translates validated edit operations into ffmpeg
// invocations and runs them.
package ffmpeg

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"videocursor/edit"
)

// ErrUnsupported marks operations the engine cannot perform yet.
var ErrUnsupported = errors.New("unsupported operation")

// Refs carries the resolved file paths an operation works on. Audio and
// Subtitle are only set for operations that reference a second asset.
// Duration is the probed length of the input, in seconds.
type Refs struct {
	Input    string
	Audio    string
	Subtitle string
	Output   string
	Duration float64
	TempDir  string
}

// Plan is an ordered list of ffmpeg argument vectors. Multi-step plans
// leave intermediates under Refs.TempDir; only the final step writes
// Refs.Output.
type Plan struct {
	Steps [][]string
}

// OutputExt returns the file extension the operation's output will carry.
func OutputExt(op edit.Operation) string {
	switch o := op.(type) {
	case *edit.ExtractAudio:
		if o.Codec == "wav" {
			return ".wav"
		}
		if o.Codec == "flac" {
			return ".flac"
		}
		if o.Codec == "ogg" {
			return ".ogg"
		}
		if o.Codec == "aac" {
			return ".m4a"
		}
		return ".mp3"
	case *edit.Gif:
		return ".gif"
	default:
		return ".mp4"
	}
}

// BuildPlan maps an operation onto concrete ffmpeg steps. It may write
// small helper files (concat lists) into refs.TempDir.
func BuildPlan(op edit.Operation, refs Refs) (*Plan, error) {
	switch o := op.(type) {
	case *edit.Trim:
		return trimPlan(o, refs), nil
	case *edit.Splice:
		return splicePlan(o, refs)
	case *edit.Effects:
		return effectsPlan(o, refs)
	case *edit.ExtractAudio:
		return extractAudioPlan(o, refs), nil
	case *edit.BackgroundAudio:
		return backgroundAudioPlan(o, refs), nil
	case *edit.SoundEffect:
		return soundEffectPlan(o, refs), nil
	case *edit.Subtitles:
		return subtitlesPlan(o, refs)
	case *edit.Convert:
		return convertPlan(o, refs), nil
	case *edit.Gif:
		return gifPlan(o, refs), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op.Kind())
	}
}

func ffs(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func wholeSeconds(v float64) bool {
	return v == math.Trunc(v)
}

// trimPlan stream-copies when the cut points sit on whole seconds; frame
// accuracy there is close enough and the copy is near-instant. Fractional
// cut points get a re-encode.
func trimPlan(o *edit.Trim, refs Refs) *Plan {
	dur := o.End - o.Start
	if wholeSeconds(o.Start) && wholeSeconds(o.End) {
		return &Plan{Steps: [][]string{{
			"-ss", ffs(o.Start), "-i", refs.Input,
			"-t", ffs(dur),
			"-c", "copy", "-avoid_negative_ts", "make_zero",
			"-y", refs.Output,
		}}}
	}
	return &Plan{Steps: [][]string{{
		"-ss", ffs(o.Start), "-i", refs.Input,
		"-t", ffs(dur),
		"-c:v", "libx264", "-crf", "23", "-preset", "fast",
		"-c:a", "aac",
		"-avoid_negative_ts", "make_zero",
		"-y", refs.Output,
	}}}
}

func splicePlan(o *edit.Splice, refs Refs) (*Plan, error) {
	if refs.Duration <= 0 {
		return nil, fmt.Errorf("splice needs a probed input duration")
	}
	if o.Start >= refs.Duration {
		return nil, fmt.Errorf("remove_start_time %s is past the end of the video", ffs(o.Start))
	}

	// Degenerate removals collapse to a single trim.
	if o.Start <= 0 {
		return trimPlan(&edit.Trim{Start: o.End, End: refs.Duration}, refs), nil
	}
	if o.End >= refs.Duration {
		return trimPlan(&edit.Trim{Start: 0, End: o.Start}, refs), nil
	}

	part1 := filepath.Join(refs.TempDir, "part1.mp4")
	part2 := filepath.Join(refs.TempDir, "part2.mp4")
	list := filepath.Join(refs.TempDir, "concat.txt")
	listBody := fmt.Sprintf("file '%s'\nfile '%s'\n", part1, part2)
	if err := os.WriteFile(list, []byte(listBody), 0o600); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	segment := func(start, end, out string) []string {
		return []string{
			"-ss", start, "-i", refs.Input, "-t", end,
			"-c:v", "libx264", "-crf", "23", "-preset", "fast",
			"-c:a", "aac",
			"-avoid_negative_ts", "make_zero",
			"-y", out,
		}
	}
	return &Plan{Steps: [][]string{
		segment("0", ffs(o.Start), part1),
		segment(ffs(o.End), ffs(refs.Duration-o.End), part2),
		{
			"-f", "concat", "-safe", "0", "-i", list,
			"-fflags", "+genpts", "-c", "copy",
			"-y", refs.Output,
		},
	}}, nil
}

func effectsPlan(o *edit.Effects, refs Refs) (*Plan, error) {
	if o.Neutral() {
		return nil, fmt.Errorf("no effect selected")
	}

	var chain []string
	if o.Blur > 0 {
		chain = append(chain, fmt.Sprintf("gblur=sigma=%s", ffs(o.Blur)))
	}
	if o.Brightness != 0 || *o.Contrast != 1 || *o.Saturation != 1 {
		chain = append(chain, fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
			ffs(o.Brightness), ffs(*o.Contrast), ffs(*o.Saturation)))
	}
	if f := artisticFilter(o.Filter); f != "" {
		chain = append(chain, f)
	}
	if o.Zoom {
		chain = append(chain, "zoompan=z='min(zoom+0.0015,1.5)':d=1:x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)'")
	}
	if o.Rotation != 0 {
		chain = append(chain, fmt.Sprintf("rotate=%s", ffs(o.Rotation*math.Pi/180)))
	}
	if o.FlipH {
		chain = append(chain, "hflip")
	}
	if o.FlipV {
		chain = append(chain, "vflip")
	}

	return &Plan{Steps: [][]string{{
		"-i", refs.Input,
		"-vf", strings.Join(chain, ","),
		"-c:v", "libx264", "-crf", "23", "-preset", "fast",
		"-c:a", "copy",
		"-y", refs.Output,
	}}}, nil
}

func artisticFilter(f edit.Filter) string {
	switch f {
	case edit.FilterBlackAndWhite:
		return "hue=s=0"
	case edit.FilterSepia:
		return "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131"
	case edit.FilterVintage:
		return "eq=contrast=0.9:brightness=0.05:saturation=0.7,colorbalance=rs=0.1:gs=0.05:bs=-0.1"
	case edit.FilterNegative:
		return "negate"
	case edit.FilterEmboss:
		return "convolution='-2 -1 0 -1 1 1 0 1 2:-2 -1 0 -1 1 1 0 1 2:-2 -1 0 -1 1 1 0 1 2:-2 -1 0 -1 1 1 0 1 2'"
	case edit.FilterEdgeDetection:
		return "edgedetect=low=0.1:high=0.4"
	default:
		return ""
	}
}

var encoderFor = map[string]string{
	"mp3":  "libmp3lame",
	"aac":  "aac",
	"wav":  "pcm_s16le",
	"flac": "flac",
	"ogg":  "libvorbis",
}

func extractAudioPlan(o *edit.ExtractAudio, refs Refs) *Plan {
	args := []string{
		"-i", refs.Input, "-vn",
		"-acodec", encoderFor[o.Codec],
	}
	if o.Codec != "wav" && o.Codec != "flac" {
		args = append(args, "-ab", o.Bitrate)
	}
	args = append(args, "-y", refs.Output)
	return &Plan{Steps: [][]string{args}}
}

func backgroundAudioPlan(o *edit.BackgroundAudio, refs Refs) *Plan {
	var filter string
	if *o.Mix {
		filter = fmt.Sprintf(
			"[1:a]volume=%s[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=3[aout]",
			ffs(*o.Volume))
	} else {
		filter = fmt.Sprintf("[1:a]volume=%s[aout]", ffs(*o.Volume))
	}
	return &Plan{Steps: [][]string{{
		"-i", refs.Input, "-i", refs.Audio,
		"-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy", "-c:a", "aac",
		"-shortest",
		"-y", refs.Output,
	}}}
}

func soundEffectPlan(o *edit.SoundEffect, refs Refs) *Plan {
	delayMs := int(o.Start * 1000)
	fx := fmt.Sprintf("[1:a]volume=%s", ffs(*o.Volume))
	if o.Duration != nil {
		fx = fmt.Sprintf("[1:a]atrim=0:%s,volume=%s", ffs(*o.Duration), ffs(*o.Volume))
	}
	filter := fmt.Sprintf("%s,adelay=%d|%d[fx];[0:a][fx]amix=inputs=2:duration=first[aout]",
		fx, delayMs, delayMs)
	return &Plan{Steps: [][]string{{
		"-i", refs.Input, "-i", refs.Audio,
		"-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy", "-c:a", "aac",
		"-y", refs.Output,
	}}}
}

func subtitlesPlan(o *edit.Subtitles, refs Refs) (*Plan, error) {
	if o.AutoTranscribe {
		return nil, fmt.Errorf("%w: automatic transcription", ErrUnsupported)
	}
	if o.Burn {
		return &Plan{Steps: [][]string{{
			"-i", refs.Input,
			"-vf", "subtitles=" + filterEscape(refs.Subtitle),
			"-c:v", "libx264", "-crf", "23", "-preset", "fast",
			"-c:a", "copy",
			"-y", refs.Output,
		}}}, nil
	}
	return &Plan{Steps: [][]string{{
		"-i", refs.Input, "-i", refs.Subtitle,
		"-c", "copy", "-c:s", "mov_text",
		"-map", "0:v", "-map", "0:a", "-map", "1:s",
		"-metadata:s:s:0", "language=" + o.Language,
		"-y", refs.Output,
	}}}, nil
}

func convertPlan(o *edit.Convert, refs Refs) *Plan {
	args := []string{"-i", refs.Input, "-c:v", o.VideoCodec}
	if o.VideoCodec != "copy" {
		args = append(args,
			"-crf", fmt.Sprintf("%d", *o.Quality),
			"-preset", "fast",
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
			"-pix_fmt", "yuv420p",
		)
	}
	args = append(args, "-c:a", o.AudioCodec,
		"-movflags", "+faststart",
		"-y", refs.Output)
	return &Plan{Steps: [][]string{args}}
}

// gifPlan is the usual two-pass palette dance: generate a palette from the
// clip, then map the clip through it.
func gifPlan(o *edit.Gif, refs Refs) *Plan {
	palette := filepath.Join(refs.TempDir, "palette.png")
	scale := fmt.Sprintf("fps=10,scale=%d:%d:flags=lanczos", o.Width, o.Height)
	return &Plan{Steps: [][]string{
		{
			"-ss", ffs(o.Start), "-t", ffs(*o.Duration), "-i", refs.Input,
			"-vf", scale + ",palettegen",
			"-y", palette,
		},
		{
			"-ss", ffs(o.Start), "-t", ffs(*o.Duration), "-i", refs.Input,
			"-i", palette,
			"-filter_complex", scale + "[x];[x][1:v]paletteuse",
			"-y", refs.Output,
		},
	}}
}

// filterEscape quotes a path for use inside an ffmpeg filter expression,
// where ':' and '\' are structural.
func filterEscape(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	return "'" + path + "'"
}
