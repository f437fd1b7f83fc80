// videocursor/resolve/resolve.go
// Package resolve maps a natural-language instruction to a validated edit
// operation, or to a structured reason why no operation could be produced.
package resolve

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"videocursor/asset"
	"videocursor/classify"
	"videocursor/edit"
)

// Reasons an instruction did not resolve to an operation.
const (
	ReasonNoAsset           = "no_asset_selected"
	ReasonNotAnEditRequest  = "not_an_edit_request"
	ReasonInvalidParameters = "invalid_parameters"
	ReasonAmbiguous         = "ambiguous"
)

// Unresolved reports why an instruction produced no operation. It is an
// expected outcome, not a transport failure; handlers turn it into a
// conversational response.
type Unresolved struct {
	Reason string
	Detail string
	Reply  string
}

func (u *Unresolved) Error() string {
	if u.Detail != "" {
		return u.Reason + ": " + u.Detail
	}
	return u.Reason
}

type Resolver struct {
	classifier classify.Classifier
	log        *logrus.Logger
}

func NewResolver(c classify.Classifier, log *logrus.Logger) *Resolver {
	return &Resolver{classifier: c, log: log}
}

// kindAliases maps surface names the model likes to use onto canonical kinds.
var kindAliases = map[string]edit.Kind{
	"trim":             edit.KindTrim,
	"cut":              edit.KindTrim,
	"splice":           edit.KindSplice,
	"remove":           edit.KindSplice,
	"effects":          edit.KindEffects,
	"effect":           edit.KindEffects,
	"filter":           edit.KindEffects,
	"extract_audio":    edit.KindExtractAudio,
	"audio_extract":    edit.KindExtractAudio,
	"background_audio": edit.KindBackgroundAudio,
	"background_music": edit.KindBackgroundAudio,
	"sound_effect":     edit.KindSoundEffect,
	"subtitles":        edit.KindSubtitles,
	"subtitle":         edit.KindSubtitles,
	"captions":         edit.KindSubtitles,
	"convert":          edit.KindConvert,
	"gif":              edit.KindGif,
	"create_gif":       edit.KindGif,
}

var removalWords = regexp.MustCompile(`\b(remove|delete|splice|cut out|get rid|without)\b`)

// Resolve classifies instruction against the currently selected asset and
// returns a fully validated operation. A nil current asset short-circuits
// before the classifier is consulted. A non-empty kindHint (the caller
// already knows which edit it wants) overrides the classifier's kind;
// parameters still come from the instruction.
func (r *Resolver) Resolve(ctx context.Context, instruction, kindHint string, current *asset.Asset) (edit.Operation, error) {
	if current == nil {
		return nil, &Unresolved{
			Reason: ReasonNoAsset,
			Reply:  "Upload or select a video first, then tell me what to change.",
		}
	}

	cand, err := r.classifier.Classify(ctx, instruction)
	if err != nil {
		return nil, err
	}
	if !cand.Actionable {
		reply := cand.Reply
		if reply == "" {
			reply = "I can trim, splice, add effects, handle audio and subtitles, convert formats, and make GIFs. What would you like?"
		}
		return nil, &Unresolved{Reason: ReasonNotAnEditRequest, Reply: reply}
	}

	if cand.Params == nil {
		cand.Params = map[string]interface{}{}
	}

	kindName := cand.Kind
	hinted := false
	if kindHint != "" {
		kindName = kindHint
		hinted = true
	}

	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(kindName))]
	if !ok {
		r.log.WithField("operation", kindName).Debug("unknown operation kind")
		return nil, &Unresolved{
			Reason: ReasonAmbiguous,
			Detail: "unrecognized operation " + kindName,
			Reply:  "I didn't understand that as an edit. Could you rephrase it?",
		}
	}

	// The model occasionally labels a keep-this-range request as a splice.
	// Only treat it as a removal when the wording actually asks for one.
	// A hinted kind is the caller's explicit choice and stands as-is.
	if !hinted && kind == edit.KindSplice && !removalWords.MatchString(strings.ToLower(instruction)) {
		kind = edit.KindTrim
		cand.Params = retagSpliceParams(cand.Params)
	}

	op, err := edit.Validate(kind, cand.Params)
	if err != nil {
		var verr *edit.ValidationError
		if errors.As(err, &verr) {
			return nil, &Unresolved{
				Reason: ReasonInvalidParameters,
				Detail: verr.Error(),
				Reply:  "Those parameters don't work: " + verr.Error() + ". Could you adjust them?",
			}
		}
		return nil, err
	}
	return op, nil
}

func retagSpliceParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch k {
		case "remove_start_time":
			out["start_time"] = v
		case "remove_end_time":
			out["end_time"] = v
		default:
			out[k] = v
		}
	}
	return out
}
