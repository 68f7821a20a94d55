package media

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

func TestPolicyCheck(t *testing.T) {
	policy := Policy{}

	ext, err := policy.Check("Scan.JPEG", 1024)
	require.NoError(t, err)
	require.Equal(t, ".jpeg", ext)

	_, err = policy.Check("archive.zip", 1024)
	require.ErrorIs(t, err, ErrDisallowedExtension)

	_, err = policy.Check("noext", 1024)
	require.ErrorIs(t, err, ErrDisallowedExtension)

	_, err = policy.Check("clip.mp4", 60*1024*1024)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Contains(t, err.Error(), "MiB")

	_, err = policy.Check("clip.mp4", 0)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = Policy{MaxBytes: 10}.Check("note.pdf", 11)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestDetectMIME(t *testing.T) {
	require.Equal(t, "image/png", DetectMIME("image/png", nil))
	require.Equal(t, "video/mp4", DetectMIME("Video/MP4; codecs=avc1", nil))

	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	require.Equal(t, "application/pdf", DetectMIME("application/octet-stream", pdf))
	require.Equal(t, "application/pdf", DetectMIME("", pdf))
}

func TestClassify(t *testing.T) {
	cases := map[string]models.MessageKind{
		"image/jpeg":         models.KindImage,
		"video/quicktime":    models.KindVideo,
		"audio/mpeg":         models.KindAudio,
		"application/pdf":    models.KindDocument,
		"":                   models.KindDocument,
		"text/plain; utf-8":  models.KindDocument,
		"IMAGE/GIF":          models.KindImage,
		"application/msword": models.KindDocument,
	}
	for mime, want := range cases {
		require.Equal(t, want, Classify(mime), mime)
	}
}
