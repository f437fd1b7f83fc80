// videocursor/resolve/resolve_test.go
package resolve

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocursor/asset"
	"videocursor/classify"
	"videocursor/edit"
)

type stubClassifier struct {
	cand *classify.Candidate
	err  error
}

func (s *stubClassifier) Classify(ctx context.Context, instruction string) (*classify.Candidate, error) {
	return s.cand, s.err
}

func (s *stubClassifier) Analyze(ctx context.Context, instruction string) (string, error) {
	return "specific", nil
}

func newResolver(c classify.Classifier) *Resolver {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return NewResolver(c, log)
}

var testAsset = &asset.Asset{ID: "abc", Kind: asset.KindVideo}

func TestResolveNoAssetSkipsClassifier(t *testing.T) {
	r := newResolver(&stubClassifier{err: errors.New("must not be called")})

	_, err := r.Resolve(context.Background(), "trim it", "", nil)
	var u *Unresolved
	require.ErrorAs(t, err, &u)
	assert.Equal(t, ReasonNoAsset, u.Reason)
	assert.NotEmpty(t, u.Reply)
}

func TestResolveNotActionable(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: false,
		Reply:      "Hello there!",
	}})

	_, err := r.Resolve(context.Background(), "hi", "", testAsset)
	var u *Unresolved
	require.ErrorAs(t, err, &u)
	assert.Equal(t, ReasonNotAnEditRequest, u.Reason)
	assert.Equal(t, "Hello there!", u.Reply)
}

func TestResolveTrim(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"start_time": 5, "end_time": 20},
	}})

	op, err := r.Resolve(context.Background(), "keep seconds 5 to 20", "", testAsset)
	require.NoError(t, err)
	trim, ok := op.(*edit.Trim)
	require.True(t, ok)
	assert.Equal(t, float64(5), trim.Start)
	assert.Equal(t, float64(20), trim.End)
}

func TestResolveKindAlias(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "background_music",
		Params:     map[string]interface{}{"audio_file_id": "track-1"},
	}})

	op, err := r.Resolve(context.Background(), "add music from track-1 behind it", "", testAsset)
	require.NoError(t, err)
	assert.Equal(t, edit.KindBackgroundAudio, op.Kind())
}

func TestResolveSpliceKeptWhenRemovalLanguage(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "splice",
		Params:     map[string]interface{}{"remove_start_time": 10, "remove_end_time": 15},
	}})

	op, err := r.Resolve(context.Background(), "remove seconds 10 to 15", "", testAsset)
	require.NoError(t, err)
	assert.Equal(t, edit.KindSplice, op.Kind())
}

func TestResolveSpliceDemotedWithoutRemovalLanguage(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "splice",
		Params:     map[string]interface{}{"remove_start_time": 10, "remove_end_time": 15},
	}})

	op, err := r.Resolve(context.Background(), "keep only seconds 10 to 15", "", testAsset)
	require.NoError(t, err)
	trim, ok := op.(*edit.Trim)
	require.True(t, ok)
	assert.Equal(t, float64(10), trim.Start)
	assert.Equal(t, float64(15), trim.End)
}

func TestResolveKindHintOverridesClassifier(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"remove_start_time": 10, "remove_end_time": 15},
	}})

	op, err := r.Resolve(context.Background(), "take that part out", "splice", testAsset)
	require.NoError(t, err)
	assert.Equal(t, edit.KindSplice, op.Kind())
}

func TestResolveUnknownKind(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "teleport",
	}})

	_, err := r.Resolve(context.Background(), "teleport the video", "", testAsset)
	var u *Unresolved
	require.ErrorAs(t, err, &u)
	assert.Equal(t, ReasonAmbiguous, u.Reason)
}

func TestResolveInvalidParameters(t *testing.T) {
	r := newResolver(&stubClassifier{cand: &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"start_time": 20, "end_time": 5},
	}})

	_, err := r.Resolve(context.Background(), "trim from 20 to 5", "", testAsset)
	var u *Unresolved
	require.ErrorAs(t, err, &u)
	assert.Equal(t, ReasonInvalidParameters, u.Reason)
	assert.NotEmpty(t, u.Detail)
}

func TestResolveClassifierFailurePassesThrough(t *testing.T) {
	r := newResolver(&stubClassifier{err: classify.ErrUnavailable})

	_, err := r.Resolve(context.Background(), "trim it", "", testAsset)
	assert.ErrorIs(t, err, classify.ErrUnavailable)
	var u *Unresolved
	assert.False(t, errors.As(err, &u))
}
